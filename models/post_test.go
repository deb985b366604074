package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostDerivedCounters(t *testing.T) {
	cid := uint(1)
	p := Post{
		ID:          9,
		Title:       "Irrigation schedule",
		Attachments: []Attachment{{ID: 1}, {ID: 2}},
		Likes:       []PostLike{{UserID: 3}, {UserID: 4}},
		Comments: []Comment{
			{ID: 1, Attachments: []Attachment{{ID: 3, CommentID: &cid}}},
			{ID: 2},
		},
	}

	assert.Equal(t, 2, p.LikeCount())
	assert.Equal(t, 2, p.CommentCount())
	assert.Equal(t, 3, p.AttachmentCount())
	assert.Equal(t, []uint{3, 4}, p.LikedBy())
	assert.True(t, p.IsLikedBy(4))
	assert.False(t, p.IsLikedBy(5))
}

func TestPostJSON(t *testing.T) {
	p := Post{
		ID:       1,
		UserID:   2,
		Category: "Irrigation",
		Title:    "Drip",
		Likes:    []PostLike{{UserID: 7}},
		Comments: []Comment{{ID: 5, Content: "yes", Likes: []CommentLike{{UserID: 2}}}},
	}
	b, err := json.Marshal(p)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.EqualValues(t, 1, out["likeCount"])
	assert.EqualValues(t, 1, out["commentCount"])
	assert.EqualValues(t, 0, out["attachmentCount"])
	assert.Equal(t, []interface{}{float64(7)}, out["likes"])
	assert.Equal(t, []interface{}{}, out["tags"])
	assert.EqualValues(t, 2, out["authorId"])
	assert.NotContains(t, out, "editedAt")

	comments := out["comments"].([]interface{})
	c := comments[0].(map[string]interface{})
	assert.EqualValues(t, 1, c["likeCount"])
	assert.Equal(t, []interface{}{float64(2)}, c["likes"])
}

func TestAttachmentJSONHidesStorageHandle(t *testing.T) {
	b, err := json.Marshal(Attachment{ID: 1, URL: "/u/a.png", Kind: KindImage, StorageHandle: "a.png"})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"fileType":"image"`)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.NotContains(t, out, "storageHandle")
	assert.NotContains(t, out, "StorageHandle")
}

func TestValidCategory(t *testing.T) {
	assert.True(t, ValidCategory(DefaultCategory))
	assert.True(t, ValidCategory("Pest Control"))
	assert.False(t, ValidCategory("pest control"))
	assert.False(t, ValidCategory(""))
}
