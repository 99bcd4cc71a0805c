// Package catalog serves the recipe collection and the ingredient and unit
// catalogues that recipes and grocery lists refer to.
package catalog

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"recipe-client/internal/backend"
	"recipe-client/internal/mutation"
	"recipe-client/internal/pagination"
	"recipe-client/internal/recipe"
	"recipe-client/internal/session"

	"github.com/rs/zerolog/log"
)

const (
	// RecipesPath is the paginated, searchable recipe collection.
	RecipesPath     = "/api/recipes/recipes/"
	recipePath      = RecipesPath + "%d/"
	ingredientsPath = "/api/ingredients/ingredients/"
	unitsPath       = "/api/ingredients/units/"
)

// RecipeKey identifies a recipe in stores and cursors.
func RecipeKey(r recipe.Recipe) string {
	return strconv.FormatInt(r.ID, 10)
}

// Recipes holds the signed-in user's own recipes and opens explore cursors
// over everyone's.
type Recipes struct {
	client backend.Client
	guard  *session.Guard
	coord  *mutation.Coordinator[recipe.Recipe]

	mu    sync.RWMutex
	order []string
}

// NewRecipes creates an empty Recipes.
func NewRecipes(client backend.Client, guard *session.Guard, opts ...mutation.Option) *Recipes {
	return &Recipes{
		client: client,
		guard:  guard,
		coord:  mutation.NewCoordinator(mutation.NewStore[recipe.Recipe](), opts...),
	}
}

// Explore returns a cursor over the recipe collection.
func (r *Recipes) Explore(opts ...pagination.Option) *pagination.Cursor[recipe.Recipe] {
	return pagination.NewCursor(pagination.FromClient[recipe.Recipe](r.client), RecipeKey, RecipesPath, opts...)
}

// LoadMine fetches the user's own recipes. A recipe still being deleted is
// left as displayed.
func (r *Recipes) LoadMine(ctx context.Context) ([]recipe.Recipe, error) {
	var mine []recipe.Recipe
	if err := backend.GetJSON(ctx, r.client, RecipesPath+"?mine=true", &mine); err != nil {
		return nil, fmt.Errorf("failed to load own recipes: %w", err)
	}

	store := r.coord.Store()
	order := make([]string, 0, len(mine))
	for _, rec := range mine {
		k := RecipeKey(rec)
		order = append(order, k)
		if !r.coord.InFlight(k) {
			store.Set(k, rec)
		}
	}
	for _, k := range store.Keys() {
		if !slices.Contains(order, k) && !r.coord.InFlight(k) {
			store.Delete(k)
		}
	}

	r.mu.Lock()
	r.order = order
	r.mu.Unlock()
	return r.Mine(), nil
}

// Mine returns the user's recipes currently displayed.
func (r *Recipes) Mine() []recipe.Recipe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]recipe.Recipe, 0, len(r.order))
	for _, k := range r.order {
		if rec, ok := r.coord.Store().Get(k); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Delete removes one of the user's recipes. It leaves the list at once and
// comes back if the server refuses.
func (r *Recipes) Delete(ctx context.Context, id int64) error {
	target := strconv.FormatInt(id, 10)
	if _, ok := r.coord.Store().Get(target); !ok {
		return fmt.Errorf("recipe %d is not one of the loaded recipes", id)
	}
	if _, err := r.guard.AcquireToken(ctx); err != nil {
		return err
	}

	_, err := r.coord.Trigger(ctx, mutation.Request[recipe.Recipe]{
		Target: target,
		Kind:   "delete_recipe",
		Remove: true,
		Action: func(ctx context.Context, _ recipe.Recipe) (mutation.Outcome[recipe.Recipe], error) {
			_, err := r.guard.Mutate(ctx, backend.Request{Method: http.MethodDelete, Path: fmt.Sprintf(recipePath, id)})
			return mutation.Outcome[recipe.Recipe]{}, err
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete recipe %d: %w", id, err)
	}

	r.mu.Lock()
	r.order = slices.DeleteFunc(r.order, func(k string) bool { return k == target })
	r.mu.Unlock()
	log.Info().Int64("recipe_id", id).Msg("recipe deleted")
	return nil
}

// Ingredients returns the whole ingredient catalogue. The endpoint answers
// with a plain array or with pages, depending on server settings.
func Ingredients(ctx context.Context, client backend.Client) ([]recipe.Ingredient, error) {
	var all []recipe.Ingredient
	next := ingredientsPath
	for next != "" {
		var raw json.RawMessage
		if err := backend.GetJSON(ctx, client, next, &raw); err != nil {
			return nil, fmt.Errorf("failed to load ingredients: %w", err)
		}
		if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
			var list []recipe.Ingredient
			if err := json.Unmarshal(raw, &list); err != nil {
				return nil, fmt.Errorf("failed to decode ingredients: %w", err)
			}
			return append(all, list...), nil
		}
		var page backend.Page[recipe.Ingredient]
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("failed to decode ingredients page: %w", err)
		}
		all = append(all, page.Results...)
		next = page.NextURL()
	}
	return all, nil
}

// Units returns the measurement units sorted by name.
func Units(ctx context.Context, client backend.Client) ([]recipe.Unit, error) {
	var units []recipe.Unit
	if err := backend.GetJSON(ctx, client, unitsPath, &units); err != nil {
		return nil, fmt.Errorf("failed to load units: %w", err)
	}
	slices.SortFunc(units, func(a, b recipe.Unit) int { return cmp.Compare(a.Name, b.Name) })
	return units, nil
}
