// Package pagination drives cursor-paginated list endpoints for infinite
// scrolling views.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"recipe-client/internal/backend"
	"recipe-client/internal/metrics"

	"github.com/rs/zerolog/log"
)

// DefaultThreshold is the distance in pixels from the end of the content at
// which scrolling asks for the next page.
const DefaultThreshold = 300

// ErrClosed is returned by loads on a cursor whose view was torn down.
var ErrClosed = errors.New("pagination cursor closed")

// Fetcher loads one page from an endpoint URL or a server-issued cursor.
type Fetcher[T any] func(ctx context.Context, url string) (backend.Page[T], error)

// FromClient returns a Fetcher that reads pages through c.
func FromClient[T any](c backend.Client) Fetcher[T] {
	return func(ctx context.Context, url string) (backend.Page[T], error) {
		return backend.GetPage[T](ctx, c, url)
	}
}

// ScrollPosition is the geometry reported by a scroll listener.
type ScrollPosition struct {
	ViewportHeight int
	ScrollTop      int
	ContentHeight  int
}

// Option configures a Cursor.
type Option func(*options)

type options struct {
	threshold int
}

// WithThreshold overrides DefaultThreshold.
func WithThreshold(px int) Option {
	return func(o *options) {
		o.threshold = px
	}
}

// Cursor accumulates the pages of one query. It is safe for concurrent use.
type Cursor[T any] struct {
	fetch     Fetcher[T]
	key       func(T) string
	base      string
	threshold int

	mu          sync.Mutex
	items       []T
	seen        map[string]struct{}
	next        string
	initialized bool
	loading     bool
	loadingMore bool
	err         error
	closed      bool
	// generation changes on every LoadInitial and on Close; a load that
	// completes under an older generation is dropped.
	generation uint64
}

// NewCursor creates a cursor over the collection at base. key identifies
// items so that overlapping pages never produce duplicates.
func NewCursor[T any](fetch Fetcher[T], key func(T) string, base string, opts ...Option) *Cursor[T] {
	o := options{threshold: DefaultThreshold}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cursor[T]{
		fetch:     fetch,
		key:       key,
		base:      base,
		threshold: o.threshold,
		seen:      make(map[string]struct{}),
	}
}

// LoadInitial fetches the first page for query, replacing all current state.
func (c *Cursor[T]) LoadInitial(ctx context.Context, query url.Values) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.generation++
	gen := c.generation
	c.items = nil
	c.seen = make(map[string]struct{})
	c.next = ""
	c.initialized = false
	c.loading = true
	c.loadingMore = false
	c.err = nil
	c.mu.Unlock()

	target := c.base
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	page, err := c.fetch(ctx, target)
	metrics.ObservePageLoad(err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		log.Debug().Str("url", target).Msg("discarding page for a superseded query")
		if c.closed {
			return ErrClosed
		}
		return nil
	}
	c.loading = false
	if err != nil {
		c.err = err
		return fmt.Errorf("failed to load first page: %w", err)
	}
	c.initialized = true
	c.mergeLocked(page)
	return nil
}

// LoadMore fetches the next page. It does nothing and reports false unless
// the first page has loaded, no load is running and another page exists.
func (c *Cursor[T]) LoadMore(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	if !c.initialized || c.loading || c.loadingMore || c.next == "" {
		c.mu.Unlock()
		return false, nil
	}
	c.loadingMore = true
	c.err = nil
	gen := c.generation
	next := c.next
	c.mu.Unlock()

	page, err := c.fetch(ctx, next)
	metrics.ObservePageLoad(err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		log.Debug().Str("url", next).Msg("discarding page for a superseded query")
		if c.closed {
			return false, ErrClosed
		}
		return false, nil
	}
	c.loadingMore = false
	if err != nil {
		c.err = err
		return false, fmt.Errorf("failed to load next page: %w", err)
	}
	c.mergeLocked(page)
	return true, nil
}

// OnScroll loads the next page once the viewport is within the threshold of
// the end of the content.
func (c *Cursor[T]) OnScroll(ctx context.Context, pos ScrollPosition) (bool, error) {
	if pos.ViewportHeight+pos.ScrollTop < pos.ContentHeight-c.threshold {
		return false, nil
	}
	return c.LoadMore(ctx)
}

// Close discards any load still in flight and refuses further loads.
func (c *Cursor[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.generation++
	c.loading = false
	c.loadingMore = false
}

func (c *Cursor[T]) mergeLocked(page backend.Page[T]) {
	for _, item := range page.Results {
		k := c.key(item)
		if _, dup := c.seen[k]; dup {
			log.Warn().Str("key", k).Msg("server returned an item already delivered, skipping")
			continue
		}
		c.seen[k] = struct{}{}
		c.items = append(c.items, item)
	}
	c.next = page.NextURL()
}

// Items returns a copy of the accumulated items in server order.
func (c *Cursor[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Next returns the cursor for the following page, "" when there is none.
func (c *Cursor[T]) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Done reports whether every page has been loaded.
func (c *Cursor[T]) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized && c.next == ""
}

// Loading reports whether the first page is being fetched.
func (c *Cursor[T]) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// LoadingMore reports whether a following page is being fetched.
func (c *Cursor[T]) LoadingMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadingMore
}

// Err returns the error of the last failed load, nil after a success.
func (c *Cursor[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SearchQuery builds the query for a search box. A single character is not
// searched and ok is false; an empty term lists everything.
func SearchQuery(term string) (query url.Values, ok bool) {
	term = strings.TrimSpace(term)
	if utf8.RuneCountInString(term) == 1 {
		return nil, false
	}
	query = url.Values{}
	if term != "" {
		query.Set("search", term)
	}
	return query, true
}
