package social

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"recipe-client/internal/backend"
	"recipe-client/internal/mutation"

	"github.com/google/uuid"
)

const (
	itemCommentsPath = "/api/feed/items/%d/comments/"
	commentPath      = "/api/feed/comments/%s/"

	placeholderPrefix = "pending-"
)

// ErrEmptyComment is returned when posting or editing to blank text.
var ErrEmptyComment = errors.New("comment text is empty")

// Comment is a comment on a feed item.
type Comment struct {
	ID        int64  `json:"id"`
	Username  string `json:"user_username"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
	// Pending marks a comment shown before the server confirmed it.
	Pending bool `json:"-"`
}

// Key is the store key of a confirmed comment.
func (c Comment) Key() string {
	return strconv.FormatInt(c.ID, 10)
}

// Comments is the comment thread of one feed item.
type Comments struct {
	feed   *Feed
	itemID int64
	coord  *mutation.Coordinator[Comment]

	mu    sync.RWMutex
	order []string
}

// Comments returns an empty thread for the feed item id.
func (f *Feed) Comments(id int64) *Comments {
	return &Comments{
		feed:   f,
		itemID: id,
		coord:  mutation.NewCoordinator(mutation.NewStore[Comment](), f.opts...),
	}
}

// Load fetches the thread from the server.
func (c *Comments) Load(ctx context.Context) error {
	var comments []Comment
	if err := backend.GetJSON(ctx, c.feed.client, fmt.Sprintf(itemCommentsPath, c.itemID), &comments); err != nil {
		return fmt.Errorf("failed to load comments for feed item %d: %w", c.itemID, err)
	}

	store := c.coord.Store()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range store.Keys() {
		store.Delete(k)
	}
	c.order = c.order[:0]
	for _, cm := range comments {
		store.Set(cm.Key(), cm)
		c.order = append(c.order, cm.Key())
	}
	return nil
}

// List returns the displayed comments, oldest first.
func (c *Comments) List() []Comment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Comment, 0, len(c.order))
	for _, k := range c.order {
		if cm, ok := c.coord.Store().Get(k); ok {
			out = append(out, cm)
		}
	}
	return out
}

// Post adds a comment. A pending placeholder is shown right away and is
// replaced by the server's comment, or removed if the server refuses.
func (c *Comments) Post(ctx context.Context, text string) (Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Comment{}, ErrEmptyComment
	}
	if _, err := c.feed.guard.AcquireToken(ctx); err != nil {
		return Comment{}, err
	}

	placeholder := placeholderPrefix + uuid.NewString()
	var author string
	if user := c.feed.guard.Snapshot().CurrentUser; user != nil {
		author = user.Username
	}

	c.mu.Lock()
	c.order = append(c.order, placeholder)
	c.mu.Unlock()

	rec, err := c.coord.Trigger(ctx, mutation.Request[Comment]{
		Target: placeholder,
		Kind:   "comment_post",
		Apply: func(Comment) Comment {
			return Comment{
				Username:  author,
				Text:      text,
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
				Pending:   true,
			}
		},
		Action: func(ctx context.Context, _ Comment) (mutation.Outcome[Comment], error) {
			resp, err := c.feed.guard.Mutate(ctx, backend.Request{
				Method: http.MethodPost,
				Path:   fmt.Sprintf(itemCommentsPath, c.itemID),
				Body:   map[string]string{"text": text},
			})
			if err != nil {
				return mutation.Outcome[Comment]{}, err
			}
			var created Comment
			if err := backend.DecodeJSON(resp, &created); err != nil {
				return mutation.Outcome[Comment]{}, err
			}
			if created.ID == 0 {
				return mutation.Outcome[Comment]{}, fmt.Errorf("server did not return the created comment")
			}
			return mutation.Outcome[Comment]{Value: &created, Target: created.Key()}, nil
		},
	})

	c.mu.Lock()
	if idx := slices.Index(c.order, placeholder); idx >= 0 {
		if err != nil {
			c.order = slices.Delete(c.order, idx, idx+1)
		} else {
			c.order[idx] = rec.Pending.Key()
		}
	}
	c.mu.Unlock()

	if err != nil {
		return Comment{}, fmt.Errorf("failed to post comment: %w", err)
	}
	c.feed.adjustCommentCount(c.itemID, 1)
	return rec.Pending, nil
}

// Edit replaces the text of a comment, restoring the old text on failure.
func (c *Comments) Edit(ctx context.Context, id int64, text string) (Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Comment{}, ErrEmptyComment
	}
	target := strconv.FormatInt(id, 10)
	if _, ok := c.coord.Store().Get(target); !ok {
		return Comment{}, fmt.Errorf("comment %d is not loaded", id)
	}
	if _, err := c.feed.guard.AcquireToken(ctx); err != nil {
		return Comment{}, err
	}

	rec, err := c.coord.Trigger(ctx, mutation.Request[Comment]{
		Target: target,
		Kind:   "comment_edit",
		Apply: func(cm Comment) Comment {
			cm.Text = text
			cm.Pending = true
			return cm
		},
		Action: func(ctx context.Context, pending Comment) (mutation.Outcome[Comment], error) {
			resp, err := c.feed.guard.Mutate(ctx, backend.Request{
				Method: http.MethodPatch,
				Path:   fmt.Sprintf(commentPath, target),
				Body:   map[string]string{"text": text},
			})
			if err != nil {
				return mutation.Outcome[Comment]{}, err
			}
			updated := pending
			if err := backend.DecodeJSON(resp, &updated); err != nil {
				return mutation.Outcome[Comment]{}, err
			}
			updated.Pending = false
			return mutation.Outcome[Comment]{Value: &updated}, nil
		},
	})
	if err != nil {
		return rec.Previous, fmt.Errorf("failed to edit comment %d: %w", id, err)
	}
	return rec.Pending, nil
}

// Delete removes a comment, putting it back if the server refuses.
func (c *Comments) Delete(ctx context.Context, id int64) error {
	target := strconv.FormatInt(id, 10)
	if _, ok := c.coord.Store().Get(target); !ok {
		return fmt.Errorf("comment %d is not loaded", id)
	}
	if _, err := c.feed.guard.AcquireToken(ctx); err != nil {
		return err
	}

	_, err := c.coord.Trigger(ctx, mutation.Request[Comment]{
		Target: target,
		Kind:   "comment_delete",
		Remove: true,
		Action: func(ctx context.Context, _ Comment) (mutation.Outcome[Comment], error) {
			_, err := c.feed.guard.Mutate(ctx, backend.Request{Method: http.MethodDelete, Path: fmt.Sprintf(commentPath, target)})
			return mutation.Outcome[Comment]{}, err
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete comment %d: %w", id, err)
	}

	c.mu.Lock()
	c.order = slices.DeleteFunc(c.order, func(k string) bool { return k == target })
	c.mu.Unlock()
	c.feed.adjustCommentCount(c.itemID, -1)
	return nil
}
