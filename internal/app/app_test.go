package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"recipe-client/internal/backend"
	"recipe-client/internal/config"
	"recipe-client/internal/database"
	"recipe-client/internal/metrics"
	"recipe-client/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	server      *httptest.Server
	recipeCalls atomic.Int32
	feedCalls   atomic.Int32
	refuseLike  atomic.Bool

	mu     sync.Mutex
	writes []string
}

func (f *fakeBackend) record(req *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, req.Method+" "+req.URL.Path)
}

func (f *fakeBackend) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	f := &fakeBackend{}

	r := chi.NewRouter()
	r.Get("/api/auth/csrf/", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintln(w, `{"csrfToken": "tok"}`)
	})
	r.Get("/api/auth/status/", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintln(w, `{"authenticated": true, "user": {"id": 1, "username": "ana", "follower_count": 2, "following_count": 3}}`)
	})
	r.Post("/api/auth/signup/", func(w http.ResponseWriter, req *http.Request) {
		f.record(req)
		w.WriteHeader(http.StatusCreated)
	})
	r.Get("/api/recipes/recipes/", func(w http.ResponseWriter, req *http.Request) {
		f.recipeCalls.Add(1)
		q := req.URL.Query()
		switch {
		case q.Get("mine") == "true":
			fmt.Fprintln(w, `[{"id": 7, "title": "Soup", "author_username": "ana"}, {"id": 9, "title": "Tart", "author_username": "ana"}]`)
		case q.Get("page") == "2":
			fmt.Fprintln(w, `{"results": [{"id": 8, "title": "Bread", "author_username": "bo"}], "next": null}`)
		default:
			fmt.Fprintf(w, `{"results": [{"id": 7, "title": "Soup", "author_username": "cy", "content": "<p>Hot soup</p>", "average_rating": 4.5, "rating_count": 2}], "next": "%s/api/recipes/recipes/?page=2"}`, f.server.URL)
		}
	})
	r.Delete("/api/recipes/recipes/{id}/", func(w http.ResponseWriter, req *http.Request) {
		f.record(req)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/api/feed/feed/", func(w http.ResponseWriter, req *http.Request) {
		f.feedCalls.Add(1)
		fmt.Fprintln(w, `[
  {"id": 1, "user_username": "cy", "event_type": "new_recipe", "recipe": {"id": 7, "title": "Soup", "content": "<p>Hot soup</p>"}, "like_count": 4, "comment_count": 1},
  {"id": 2, "user_username": "ana", "event_type": "new_rating", "recipe": {"id": 8, "title": "Bread"}, "rating": {"id": 70, "recipe": 8, "author_username": "ana", "rating": 9}, "like_count": 0}
]`)
	})
	r.Post("/api/feed/items/{id}/like/", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "tok", req.Header.Get(backend.TokenHeader))
		if f.refuseLike.Load() {
			w.WriteHeader(http.StatusConflict)
			fmt.Fprintln(w, `{"detail": "Not allowed."}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	rating := func(w http.ResponseWriter, req *http.Request) {
		f.record(req)
		var body map[string]int
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		id := chi.URLParam(req, "id")
		if id == "" {
			id = "71"
		}
		fmt.Fprintf(w, `{"id": %s, "recipe": %d, "author_username": "ana", "rating": %d}`, id, body["recipe"], body["rating"])
	}
	r.Post("/api/recipes/ratings/", rating)
	r.Put("/api/recipes/ratings/{id}/", rating)
	r.Get("/recipes/get_grocery_lists", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintln(w, `{"5": {"id": 5, "name": "Week", "username": "ana"}}`)
	})
	r.Post("/recipes/create_grocery_list/", func(w http.ResponseWriter, req *http.Request) {
		f.record(req)
	})

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func newTestApp(t *testing.T, f *fakeBackend) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{
		BackendURL:      f.server.URL,
		DatabasePath:    filepath.Join(t.TempDir(), "recipe-client.db"),
		RequestTimeout:  5 * time.Second,
		ScrollThreshold: 300,
	}
	client, err := backend.NewClient(cfg)
	require.NoError(t, err)

	db, err := database.NewDB(cfg.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	a := NewApp(cfg, client, session.NewGuard(client), db, metrics.NewStore(db.SQL))
	t.Cleanup(a.Close)

	var out bytes.Buffer
	a.SetOutput(&out)
	require.NoError(t, a.Start(context.Background()))
	return a, &out
}

func TestApp_Status(t *testing.T) {
	a, out := newTestApp(t, newFakeBackend(t))

	require.NoError(t, a.Status(context.Background()))
	assert.Contains(t, out.String(), "Signed in as ana (2 followers, following 3)")
	assert.Contains(t, out.String(), "Actions: enabled")
}

func TestApp_Explore(t *testing.T) {
	f := newFakeBackend(t)
	a, out := newTestApp(t, f)

	require.NoError(t, a.Explore(context.Background(), "", 2))
	assert.Contains(t, out.String(), `[7] "Soup" by cy  4.5/5 (2 ratings)`)
	assert.Contains(t, out.String(), "Hot soup")
	assert.Contains(t, out.String(), `[8] "Bread" by bo`)
	assert.NotContains(t, out.String(), "More available")
	assert.Equal(t, int32(2), f.recipeCalls.Load())
}

func TestApp_ExploreShortSearch(t *testing.T) {
	f := newFakeBackend(t)
	a, out := newTestApp(t, f)

	require.NoError(t, a.Explore(context.Background(), "s", 1))
	assert.Contains(t, out.String(), "at least 2 characters")
	assert.Zero(t, f.recipeCalls.Load())
}

func TestApp_FeedAndLike(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(t)
	a, out := newTestApp(t, f)

	require.NoError(t, a.Feed(ctx))
	assert.Contains(t, out.String(), `[1] cy posted "Soup"`)
	assert.Contains(t, out.String(), `[2] ana rated "Bread"`)
	assert.Contains(t, out.String(), "rated 4.5/5")

	out.Reset()
	require.NoError(t, a.Like(ctx, 1))
	assert.Equal(t, "Liked item 1 (5 likes).\n", out.String())
	assert.Equal(t, int32(1), f.feedCalls.Load(), "a tracked item needs no reload")

	usage, err := a.metricsStore.GetDailyUsage(ctx, 1)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, 1, usage[0].Committed)
}

func TestApp_LikeLoadsFeed(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(t)
	a, _ := newTestApp(t, f)

	require.NoError(t, a.Like(ctx, 1))
	assert.Equal(t, int32(1), f.feedCalls.Load())

	err := a.Like(ctx, 99)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in your feed")
}

func TestApp_RolledBackLikeIsJournaled(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(t)
	a, _ := newTestApp(t, f)
	require.NoError(t, a.Feed(ctx))

	f.refuseLike.Store(true)
	err := a.Like(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, "The server refused the request. Not allowed.", backend.UserMessage(err))

	item, ok := a.feed.Item(1)
	require.True(t, ok)
	assert.False(t, item.Liked)
	assert.Equal(t, 4, item.LikeCount)

	var kind, result, errKind string
	row := a.db.SQL.QueryRowContext(ctx, `SELECT kind, result, error_kind FROM mutation_metrics`)
	require.NoError(t, row.Scan(&kind, &result, &errKind))
	assert.Equal(t, "like", kind)
	assert.Equal(t, "rolled_back", result)
	assert.Equal(t, "rejected", errKind)
}

func TestApp_Rate(t *testing.T) {
	ctx := context.Background()

	t.Run("UpdatesRatingFoundInFeed", func(t *testing.T) {
		f := newFakeBackend(t)
		a, out := newTestApp(t, f)

		require.NoError(t, a.Rate(ctx, 8, 0, 3))
		assert.Equal(t, "Rated recipe 8 with 3.0 stars.\n", out.String())
		assert.Equal(t, []string{"PUT /api/recipes/ratings/70/"}, f.seen())
	})

	t.Run("CreatesWhenNoneKnown", func(t *testing.T) {
		f := newFakeBackend(t)
		a, _ := newTestApp(t, f)

		require.NoError(t, a.Rate(ctx, 7, 0, 2))
		require.NoError(t, a.Rate(ctx, 7, 0, 2.5))
		assert.Equal(t, []string{"POST /api/recipes/ratings/", "PUT /api/recipes/ratings/71/"}, f.seen())
	})

	t.Run("GivenRatingID", func(t *testing.T) {
		f := newFakeBackend(t)
		a, _ := newTestApp(t, f)

		require.NoError(t, a.Rate(ctx, 7, 80, 1))
		assert.Equal(t, []string{"PUT /api/recipes/ratings/80/"}, f.seen())
		assert.Zero(t, f.feedCalls.Load())
	})
}

func TestApp_DeleteRecipe(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(t)
	a, out := newTestApp(t, f)

	require.NoError(t, a.DeleteRecipe(ctx, 7))
	assert.Equal(t, "Deleted recipe 7.\n", out.String())
	assert.Equal(t, []string{"DELETE /api/recipes/recipes/7/"}, f.seen())

	out.Reset()
	require.NoError(t, a.MyRecipes(ctx))
	assert.Contains(t, out.String(), `[9] "Tart" by ana`)

	var kind, result string
	row := a.db.SQL.QueryRowContext(ctx, `SELECT kind, result FROM mutation_metrics`)
	require.NoError(t, row.Scan(&kind, &result))
	assert.Equal(t, "delete_recipe", kind)
	assert.Equal(t, "committed", result)
}

func TestApp_GroceryLists(t *testing.T) {
	ctx := context.Background()
	f := newFakeBackend(t)
	a, out := newTestApp(t, f)

	require.NoError(t, a.CreateList(ctx, "Week"))
	assert.Equal(t, []string{"POST /recipes/create_grocery_list/"}, f.seen())
	assert.Contains(t, out.String(), "[5] Week")
}

func TestApp_Signup(t *testing.T) {
	f := newFakeBackend(t)
	a, out := newTestApp(t, f)

	err := a.Signup(context.Background(), session.Signup{Username: "bo", Password: "pw", ConfirmPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "Account bo created. Sign in with login.\n", out.String())
	assert.Equal(t, []string{"POST /api/auth/signup/"}, f.seen())
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", errorKind(nil))
	assert.Equal(t, "transport", errorKind(fmt.Errorf("wrapped: %w", &backend.APIError{Kind: backend.KindTransport})))
	assert.Equal(t, "other", errorKind(errors.New("boom")))
}
