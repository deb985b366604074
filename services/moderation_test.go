package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/agribbs/models"
)

func TestSetPostFlags(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "Alice", models.RoleFarmer)
	bob := e.user(t, "Bob", models.RoleFarmer)
	admin := e.user(t, "Root", models.RoleAdmin)
	p := e.post(t, alice, "Market prices")

	_, err := e.moderation.SetPostFlags(ctx, admin, p.ID, PostFlags{})
	assert.True(t, IsValidationError(err))

	_, err = e.moderation.SetPostFlags(ctx, alice, p.ID, PostFlags{IsPinned: boolPtr(true)})
	assert.True(t, IsForbidden(err), "authors cannot pin")

	_, err = e.moderation.SetPostFlags(ctx, bob, p.ID, PostFlags{IsClosed: boolPtr(true)})
	assert.True(t, IsForbidden(err), "strangers cannot close")

	got, err := e.moderation.SetPostFlags(ctx, admin, p.ID, PostFlags{IsPinned: boolPtr(true), IsClosed: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, got.IsPinned)
	assert.True(t, got.IsClosed)

	got, err = e.moderation.SetPostFlags(ctx, alice, p.ID, PostFlags{IsClosed: boolPtr(false)})
	require.NoError(t, err)
	assert.True(t, got.IsPinned, "pin is independent of close")
	assert.False(t, got.IsClosed)

	_, err = e.moderation.SetPostFlags(ctx, admin, 31337, PostFlags{IsPinned: boolPtr(true)})
	assert.True(t, IsNotFound(err))
}

func TestModerationDeleteRequiresAdmin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "Alice", models.RoleFarmer)
	p := e.post(t, alice, "Mine")

	_, err := e.moderation.DeletePost(ctx, alice, p.ID)
	assert.True(t, IsForbidden(err), "the admin surface is admin only even for authors")
}

func TestListFlagged(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "Alice", models.RoleFarmer)
	admin := e.user(t, "Root", models.RoleAdmin)

	for i := 0; i < 12; i++ {
		p := e.post(t, alice, fmt.Sprintf("reported %d", i))
		require.NoError(t, e.db.Model(&models.Post{}).Where("id = ?", p.ID).Update("report_count", i+1).Error)
	}
	e.post(t, alice, "clean")

	_, err := e.moderation.ListFlagged(ctx, alice)
	assert.True(t, IsForbidden(err))

	flagged, err := e.moderation.ListFlagged(ctx, admin)
	require.NoError(t, err)
	require.Len(t, flagged, FlaggedPageSize)
	assert.EqualValues(t, 12, flagged[0].ReportCount)
	assert.EqualValues(t, 3, flagged[FlaggedPageSize-1].ReportCount)
	for _, p := range flagged {
		assert.NotEqual(t, "clean", p.Title)
	}
}

func TestUpdateAccount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	alice := e.user(t, "Alice", models.RoleFarmer)
	admin := e.user(t, "Root", models.RoleAdmin)

	_, err := e.moderation.UpdateAccount(ctx, alice, admin.ID, AccountUpdate{IsActive: boolPtr(false)})
	assert.True(t, IsForbidden(err))

	_, err = e.moderation.UpdateAccount(ctx, admin, admin.ID, AccountUpdate{IsActive: boolPtr(false)})
	require.Error(t, err)
	var fe *ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "cannot modify your own admin status", fe.Reason)

	_, err = e.moderation.UpdateAccount(ctx, admin, alice.ID, AccountUpdate{})
	assert.True(t, IsValidationError(err))

	bogus := models.Role("overlord")
	_, err = e.moderation.UpdateAccount(ctx, admin, alice.ID, AccountUpdate{Role: &bogus})
	assert.True(t, IsValidationError(err))

	_, err = e.moderation.UpdateAccount(ctx, admin, 999, AccountUpdate{IsActive: boolPtr(false)})
	assert.True(t, IsNotFound(err))

	promoted := models.RoleAdmin
	u, err := e.moderation.UpdateAccount(ctx, admin, alice.ID, AccountUpdate{Role: &promoted, IsActive: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.Role)
	assert.False(t, u.IsActive)

	u, err = e.moderation.UpdateAccount(ctx, admin, alice.ID, AccountUpdate{IsActive: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, u.IsActive)
	assert.Equal(t, models.RoleAdmin, u.Role)
}

func TestListUsersAndStats(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	admin := e.user(t, "Root", models.RoleAdmin)
	var farmers []Caller
	for i := 0; i < 11; i++ {
		farmers = append(farmers, e.user(t, fmt.Sprintf("Farmer%d", i), models.RoleFarmer))
	}
	_, err := e.moderation.UpdateAccount(ctx, admin, farmers[0].ID, AccountUpdate{IsActive: boolPtr(false)})
	require.NoError(t, err)

	p := e.post(t, farmers[1], "open")
	e.post(t, farmers[1], "another")
	_, err = e.moderation.SetPostFlags(ctx, admin, p.ID, PostFlags{IsClosed: boolPtr(true)})
	require.NoError(t, err)

	page, err := e.moderation.ListUsers(ctx, admin, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, ManagementPageSize, page.Limit)
	assert.Len(t, page.Items, ManagementPageSize)
	assert.EqualValues(t, 12, page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)

	page, err = e.moderation.ListUsers(ctx, admin, 2, 10)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	_, err = e.moderation.ListUsers(ctx, farmers[1], 1, 10)
	assert.True(t, IsForbidden(err))

	stats, err := e.moderation.Stats(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, SystemStats{TotalUsers: 12, ActiveUsers: 11, TotalPosts: 2, ClosedPosts: 1}, *stats)

	_, err = e.moderation.Stats(ctx, farmers[2])
	assert.True(t, IsForbidden(err))
}
