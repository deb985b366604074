package services

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/agribbs/models"
	"github.com/cppla/agribbs/storage"
)

// fakeBlobs is an in-memory BlobStore that records calls and injects failures.
type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deletes   []string
	failPut   bool
	failOnDel func(handle string) bool
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (f *fakeBlobs) Put(_ context.Context, key string, body io.Reader, _ string) (*storage.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return nil, errors.New("blob store unavailable")
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = b
	return &storage.Object{URL: "https://cdn.test/" + key, Handle: key}, nil
}

func (f *fakeBlobs) Delete(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, handle)
	if f.failOnDel != nil && f.failOnDel(handle) {
		return errors.New("blob store refused delete")
	}
	delete(f.objects, handle)
	return nil
}

func (f *fakeBlobs) stored() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func (f *fakeBlobs) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deletes)
}

// clock hands out strictly increasing times so ordering by created_at is deterministic.
type clock struct {
	mu  sync.Mutex
	cur time.Time
}

func newClock() *clock {
	return &clock{cur: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Minute)
	return c.cur
}

type env struct {
	db         *gorm.DB
	blobs      *fakeBlobs
	clock      *clock
	posts      *PostService
	comments   *CommentService
	likes      *LikeLedger
	feed       *Feed
	moderation *ModerationService
	users      *GormIdentityStore
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "community.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := openTestDB(t)
	blobs := newFakeBlobs()
	files := storage.NewManager(blobs, nil)
	clk := newClock()

	posts := NewPostService(db, files, nil)
	posts.now = clk.Now
	comments := NewCommentService(db, files, nil, false)
	comments.now = clk.Now
	likes := NewLikeLedger(db)
	likes.now = clk.Now
	users := NewIdentityStore(db)

	return &env{
		db:         db,
		blobs:      blobs,
		clock:      clk,
		posts:      posts,
		comments:   comments,
		likes:      likes,
		feed:       NewFeed(posts),
		moderation: NewModerationService(db, posts, users, nil),
		users:      users,
	}
}

func (e *env) user(t *testing.T, name string, role models.Role) Caller {
	t.Helper()
	u := models.User{Name: name, Email: strings.ToLower(name) + "@farm.test", Role: role, IsActive: true}
	require.NoError(t, e.db.Create(&u).Error)
	return Caller{ID: u.ID, Name: u.Name, Role: u.Role}
}

func (e *env) post(t *testing.T, author Caller, title string) *models.Post {
	t.Helper()
	p, err := e.posts.Create(context.Background(), author, CreatePostInput{Title: title, Content: "content of " + title})
	require.NoError(t, err)
	return p
}

func file(name, contentType, body string) storage.File {
	return storage.File{Name: name, ContentType: contentType, Size: int64(len(body)), Body: strings.NewReader(body)}
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
