// Package social holds the optimistic social actions of the activity feed:
// likes, comments, follows and recipe ratings.
package social

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"recipe-client/internal/backend"
	"recipe-client/internal/mutation"
	"recipe-client/internal/recipe"
	"recipe-client/internal/session"
)

const (
	// FeedPath is the activity feed of followed users, served as a plain list.
	FeedPath = "/api/feed/feed/"
	likePath = "/api/feed/items/%d/like/"
)

// FeedItem is the like and comment state shown on one feed entry.
type FeedItem struct {
	ID           int64
	Liked        bool
	LikeCount    int
	CommentCount int
}

// FeedItemFromEvent extracts the social state of a feed event.
func FeedItemFromEvent(e recipe.FeedEvent) FeedItem {
	return FeedItem{
		ID:           e.ID,
		Liked:        e.IsLiked,
		LikeCount:    e.LikeCount,
		CommentCount: e.CommentCount,
	}
}

// EventKey identifies feed events for pagination.
func EventKey(e recipe.FeedEvent) string {
	return strconv.FormatInt(e.ID, 10)
}

func toggleLike(item FeedItem) FeedItem {
	item.Liked = !item.Liked
	if item.Liked {
		item.LikeCount++
	} else {
		item.LikeCount--
	}
	return item
}

// Feed tracks the feed items on screen and likes or unlikes them.
type Feed struct {
	client backend.Client
	guard  *session.Guard
	opts   []mutation.Option
	likes  *mutation.Coordinator[FeedItem]
	// Comment counts change with comment mutations, not like mutations, so
	// they live apart from the like store and are overlaid on read.
	commentCounts *mutation.Store[int]
}

// NewFeed creates a Feed. opts are applied to every coordinator it creates.
func NewFeed(client backend.Client, guard *session.Guard, opts ...mutation.Option) *Feed {
	return &Feed{
		client:        client,
		guard:         guard,
		opts:          opts,
		likes:         mutation.NewCoordinator(mutation.NewStore[FeedItem](), opts...),
		commentCounts: mutation.NewStore[int](),
	}
}

// Load reads the activity feed of the people the user follows and tracks
// every event in it.
func (f *Feed) Load(ctx context.Context) ([]recipe.FeedEvent, error) {
	var events []recipe.FeedEvent
	if err := backend.GetJSON(ctx, f.client, FeedPath, &events); err != nil {
		return nil, fmt.Errorf("failed to load feed: %w", err)
	}
	f.Track(events...)
	return events, nil
}

// Track shows events on screen, replacing what was held for them. Items
// with a like still settling keep their displayed like state.
func (f *Feed) Track(events ...recipe.FeedEvent) {
	for _, e := range events {
		key := EventKey(e)
		f.commentCounts.Set(key, e.CommentCount)
		if !f.likes.InFlight(key) {
			f.likes.Store().Set(key, FeedItemFromEvent(e))
		}
	}
}

// Item returns the displayed state of a tracked item.
func (f *Feed) Item(id int64) (FeedItem, bool) {
	item, ok := f.likes.Store().Get(strconv.FormatInt(id, 10))
	if !ok {
		return FeedItem{}, false
	}
	return f.withCommentCount(item), true
}

func (f *Feed) withCommentCount(item FeedItem) FeedItem {
	if n, ok := f.commentCounts.Get(strconv.FormatInt(item.ID, 10)); ok {
		item.CommentCount = n
	}
	return item
}

// Subscribe registers fn for every displayed change of a feed item, whether
// its like state or its comment count changed.
func (f *Feed) Subscribe(fn func(mutation.Change[FeedItem])) func() {
	unsubLikes := f.likes.Store().Subscribe(func(c mutation.Change[FeedItem]) {
		if c.Present {
			c.Value = f.withCommentCount(c.Value)
		}
		fn(c)
	})
	unsubCounts := f.commentCounts.Subscribe(func(c mutation.Change[int]) {
		item, ok := f.likes.Store().Get(c.Target)
		if !ok || !c.Present {
			return
		}
		item.CommentCount = c.Value
		fn(mutation.Change[FeedItem]{Target: c.Target, Value: item, Present: true, State: c.State})
	})
	return func() {
		unsubLikes()
		unsubCounts()
	}
}

// LikeBusy reports whether a like toggle of id is still settling, i.e. the
// control must stay disabled.
func (f *Feed) LikeBusy(id int64) bool {
	return f.likes.InFlight(strconv.FormatInt(id, 10))
}

// ToggleLike likes or unlikes a tracked item. The flag and count change at
// once and are restored together if the server refuses.
func (f *Feed) ToggleLike(ctx context.Context, id int64) (FeedItem, error) {
	target := strconv.FormatInt(id, 10)
	if _, ok := f.likes.Store().Get(target); !ok {
		return FeedItem{}, fmt.Errorf("feed item %d is not loaded", id)
	}
	if _, err := f.guard.AcquireToken(ctx); err != nil {
		return FeedItem{}, err
	}

	rec, err := f.likes.Trigger(ctx, mutation.Request[FeedItem]{
		Target: target,
		Kind:   "like",
		Apply:  toggleLike,
		Action: func(ctx context.Context, pending FeedItem) (mutation.Outcome[FeedItem], error) {
			method := http.MethodDelete
			if pending.Liked {
				method = http.MethodPost
			}
			_, err := f.guard.Mutate(ctx, backend.Request{Method: method, Path: fmt.Sprintf(likePath, id)})
			return mutation.Outcome[FeedItem]{}, err
		},
	})
	if err != nil {
		return f.withCommentCount(rec.Previous), fmt.Errorf("failed to toggle like on feed item %d: %w", id, err)
	}
	return f.withCommentCount(rec.Pending), nil
}

func (f *Feed) adjustCommentCount(id int64, delta int) {
	target := strconv.FormatInt(id, 10)
	if n, ok := f.commentCounts.Get(target); ok {
		f.commentCounts.Set(target, max(n+delta, 0))
	}
}
