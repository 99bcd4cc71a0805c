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
	ratingsPath = "/api/recipes/ratings/"
	ratingPath  = "/api/recipes/ratings/%d/"
)

// Ratings holds the signed-in user's rating of each recipe on screen, keyed
// by recipe.
type Ratings struct {
	guard *session.Guard
	coord *mutation.Coordinator[recipe.Rating]
}

// NewRatings creates an empty Ratings.
func NewRatings(guard *session.Guard, opts ...mutation.Option) *Ratings {
	return &Ratings{
		guard: guard,
		coord: mutation.NewCoordinator(mutation.NewStore[recipe.Rating](), opts...),
	}
}

// Track records an existing rating so later changes update it in place. A
// recipe whose rating is being changed keeps its pending value.
func (r *Ratings) Track(rating recipe.Rating) {
	target := strconv.FormatInt(rating.Recipe, 10)
	if r.coord.InFlight(target) {
		return
	}
	r.coord.Store().Set(target, rating)
}

// TrackOwn tracks the ratings by username carried in feed events and
// reports how many it found. Events come newest first, so the first rating
// seen for a recipe wins.
func (r *Ratings) TrackOwn(username string, events ...recipe.FeedEvent) int {
	found := make(map[int64]bool)
	for _, e := range events {
		rt := e.Rating
		if rt == nil || rt.ID == 0 || rt.AuthorUsername != username || found[rt.Recipe] {
			continue
		}
		found[rt.Recipe] = true
		r.Track(*rt)
	}
	return len(found)
}

// Get returns the displayed rating of a recipe.
func (r *Ratings) Get(recipeID int64) (recipe.Rating, bool) {
	return r.coord.Store().Get(strconv.FormatInt(recipeID, 10))
}

// Rate sets the user's rating of a recipe from a star value. A recipe not
// rated yet gets a new rating; otherwise the existing one is updated.
func (r *Ratings) Rate(ctx context.Context, recipeID int64, stars float64) (recipe.Rating, error) {
	value, err := recipe.ToBackendRating(stars)
	if err != nil {
		return recipe.Rating{}, err
	}
	if _, err := r.guard.AcquireToken(ctx); err != nil {
		return recipe.Rating{}, err
	}

	rec, err := r.coord.Trigger(ctx, mutation.Request[recipe.Rating]{
		Target: strconv.FormatInt(recipeID, 10),
		Kind:   "rating",
		Apply: func(current recipe.Rating) recipe.Rating {
			current.Recipe = recipeID
			current.Rating = value
			return current
		},
		Action: func(ctx context.Context, pending recipe.Rating) (mutation.Outcome[recipe.Rating], error) {
			req := backend.Request{
				Method: http.MethodPost,
				Path:   ratingsPath,
				Body:   map[string]int64{"rating": int64(value), "recipe": recipeID},
			}
			if pending.ID != 0 {
				req.Method = http.MethodPut
				req.Path = fmt.Sprintf(ratingPath, pending.ID)
			}
			resp, err := r.guard.Mutate(ctx, req)
			if err != nil {
				return mutation.Outcome[recipe.Rating]{}, err
			}
			saved := pending
			if err := backend.DecodeJSON(resp, &saved); err != nil {
				return mutation.Outcome[recipe.Rating]{}, err
			}
			return mutation.Outcome[recipe.Rating]{Value: &saved}, nil
		},
	})
	if err != nil {
		return rec.Previous, fmt.Errorf("failed to rate recipe %d: %w", recipeID, err)
	}
	return rec.Pending, nil
}
