package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/agribbs/models"
)

func TestPostLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u1 := e.user(t, "Grower", models.RoleFarmer)
	u2 := e.user(t, "Neighbour", models.RoleFarmer)
	u3 := e.user(t, "Passerby", models.RoleFarmer)
	admin := e.user(t, "Moderator", models.RoleAdmin)

	created, err := e.posts.Create(ctx, u1, CreatePostInput{Title: "Aphids on tomatoes", Content: "Help", Category: "Pest Control"})
	require.NoError(t, err)

	got, err := e.posts.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.ViewCount)
	assert.Equal(t, 0, got.CommentCount())
	assert.Equal(t, "Pest Control", got.Category)

	state, err := e.likes.TogglePost(ctx, u2, created.ID)
	require.NoError(t, err)
	assert.Equal(t, LikeState{IsLiked: true, LikeCount: 1}, *state)

	state, err = e.likes.TogglePost(ctx, u2, created.ID)
	require.NoError(t, err)
	assert.Equal(t, LikeState{IsLiked: false, LikeCount: 0}, *state)

	updated, err := e.posts.Update(ctx, u1, created.ID, UpdatePostInput{Title: strPtr("Aphids, solved")})
	require.NoError(t, err)
	require.Len(t, updated.EditHistory, 1)
	assert.Equal(t, "Aphids on tomatoes", updated.EditHistory[0].Title)
	assert.Equal(t, "Aphids, solved", updated.Title)

	_, err = e.posts.Delete(ctx, u3, created.ID)
	assert.True(t, IsForbidden(err))

	_, err = e.posts.Delete(ctx, admin, created.ID)
	require.NoError(t, err)

	_, err = e.posts.Get(ctx, created.ID)
	assert.True(t, IsNotFound(err))
}
