package backend

import (
	"context"
	"fmt"
)

// Page is the envelope every paginated list endpoint returns.
type Page[T any] struct {
	Results []T     `json:"results"`
	Next    *string `json:"next"`
}

// NextURL returns the cursor for the following page, or "" on the last page.
func (p Page[T]) NextURL() string {
	if p.Next == nil {
		return ""
	}
	return *p.Next
}

// GetPage fetches one page of a paginated collection.
func GetPage[T any](ctx context.Context, c Client, url string) (Page[T], error) {
	var page Page[T]
	if err := GetJSON(ctx, c, url, &page); err != nil {
		return Page[T]{}, fmt.Errorf("failed to load page %s: %w", url, err)
	}
	return page, nil
}
