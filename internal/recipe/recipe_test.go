package recipe

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBackendRating(t *testing.T) {
	tests := []struct {
		stars float64
		want  int
	}{
		{0, 0},
		{0.5, 1},
		{3, 6},
		{4.5, 9},
		{5, 10},
	}
	for _, tt := range tests {
		got, err := ToBackendRating(tt.stars)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "stars %.1f", tt.stars)
		assert.Equal(t, tt.stars, ToStars(got))
	}

	_, err := ToBackendRating(5.5)
	assert.Error(t, err)
	_, err = ToBackendRating(-1)
	assert.Error(t, err)
}

func TestPlainText(t *testing.T) {
	html := `<h2>Ingredients</h2><ul><li>Flour</li><li>Eggs</li></ul><p>Mix   <b>well</b>.</p><script>alert(1)</script>`

	text, err := PlainText(html)
	require.NoError(t, err)
	assert.Equal(t, "Ingredients\nFlour\nEggs\nMix well.", text)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "Short one", Summary("<p>Short one</p>", 20))
	assert.Equal(t, "Mix the…", Summary("<p>Mix the flour with eggs</p>", 8))
}

func TestFeedEventDecoding(t *testing.T) {
	payload := `{
		"id": 3,
		"user_username": "ana",
		"event_type": "new_rating",
		"created_on": "2024-05-01T10:00:00Z",
		"recipe": {"id": 7, "title": "Bread", "content": "<p>Bake</p>", "average_rating": 8.5, "rating_count": 2},
		"rating": {"id": 11, "recipe": 7, "author_username": "ana", "rating": 9, "comment": "Great", "created_on": "", "updated_on": ""},
		"like_count": 4,
		"is_liked": true
	}`

	var event FeedEvent
	require.NoError(t, json.Unmarshal([]byte(payload), &event))
	assert.Equal(t, EventNewRating, event.EventType)
	assert.Equal(t, "Bread", event.Recipe.Title)
	require.NotNil(t, event.Rating)
	assert.Equal(t, 4.5, ToStars(event.Rating.Rating))
	assert.Equal(t, 4, event.LikeCount)
	assert.True(t, event.IsLiked)
}
