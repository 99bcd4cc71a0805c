package social

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"recipe-client/internal/backend"
	"recipe-client/internal/mutation"
	"recipe-client/internal/recipe"
	"recipe-client/internal/session"
)

const (
	userSearchPath = "/api/users/search/"
	followPath     = "/api/users/%d/follow/"

	// minSearchLength is the shortest term sent to the user search.
	minSearchLength = 2
)

// Follows tracks users shown on screen and whether the signed-in user
// follows them.
type Follows struct {
	client backend.Client
	guard  *session.Guard
	coord  *mutation.Coordinator[recipe.SearchedUser]
}

// NewFollows creates an empty Follows.
func NewFollows(client backend.Client, guard *session.Guard, opts ...mutation.Option) *Follows {
	return &Follows{
		client: client,
		guard:  guard,
		coord:  mutation.NewCoordinator(mutation.NewStore[recipe.SearchedUser](), opts...),
	}
}

// Search looks users up by name. Terms shorter than two characters return
// nothing without a request.
func (f *Follows) Search(ctx context.Context, term string) ([]recipe.SearchedUser, error) {
	term = strings.TrimSpace(term)
	if utf8.RuneCountInString(term) < minSearchLength {
		return nil, nil
	}

	var users []recipe.SearchedUser
	path := userSearchPath + "?" + url.Values{"query": {term}}.Encode()
	if err := backend.GetJSON(ctx, f.client, path, &users); err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	for _, u := range users {
		f.coord.Store().Set(strconv.FormatInt(u.ID, 10), u)
	}
	return users, nil
}

// User returns the displayed state of a user seen in a search.
func (f *Follows) User(id int64) (recipe.SearchedUser, bool) {
	return f.coord.Store().Get(strconv.FormatInt(id, 10))
}

// Toggle follows a user not followed yet and unfollows one that is.
func (f *Follows) Toggle(ctx context.Context, id int64) (recipe.SearchedUser, error) {
	u, ok := f.User(id)
	if !ok {
		return recipe.SearchedUser{}, fmt.Errorf("user %d is not loaded", id)
	}
	return f.Set(ctx, id, !u.IsFollowing)
}

// Set follows or unfollows a user.
func (f *Follows) Set(ctx context.Context, id int64, follow bool) (recipe.SearchedUser, error) {
	if _, err := f.guard.AcquireToken(ctx); err != nil {
		return recipe.SearchedUser{}, err
	}

	kind := "unfollow"
	if follow {
		kind = "follow"
	}
	rec, err := f.coord.Trigger(ctx, mutation.Request[recipe.SearchedUser]{
		Target: strconv.FormatInt(id, 10),
		Kind:   kind,
		Apply: func(u recipe.SearchedUser) recipe.SearchedUser {
			u.ID = id
			u.IsFollowing = follow
			return u
		},
		Action: func(ctx context.Context, pending recipe.SearchedUser) (mutation.Outcome[recipe.SearchedUser], error) {
			method := http.MethodDelete
			if pending.IsFollowing {
				method = http.MethodPost
			}
			_, err := f.guard.Mutate(ctx, backend.Request{Method: method, Path: fmt.Sprintf(followPath, id)})
			return mutation.Outcome[recipe.SearchedUser]{}, err
		},
	})
	if err != nil {
		return rec.Previous, fmt.Errorf("failed to %s user %d: %w", kind, id, err)
	}
	return rec.Pending, nil
}
