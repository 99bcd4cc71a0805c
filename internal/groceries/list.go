package groceries

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"recipe-client/internal/backend"
	"recipe-client/internal/mutation"
	"recipe-client/internal/recipe"
	"recipe-client/internal/session"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	itemsPath  = "/api/groceries/items/"
	recipePath = "/api/recipes/recipes/%d/"

	// recipeFetchLimit bounds concurrent recipe detail fetches during Load.
	recipeFetchLimit = 4
)

// List is the view model of one grocery list: its planned recipes and
// extras, the aggregated shopping lines derived from them and the server's
// checkable items.
type List struct {
	client backend.Client
	guard  *session.Guard

	recipes *mutation.Coordinator[PlannedRecipeItem]
	extras  *mutation.Coordinator[PlannedExtraItem]
	items   *mutation.Coordinator[GroceryListItem]

	mu     sync.RWMutex
	listID int64
	// server order of each kind; stores are keyed maps
	recipeOrder []string
	extraOrder  []string
	itemOrder   []string
}

// NewList creates an empty List. opts are applied to every coordinator.
func NewList(client backend.Client, guard *session.Guard, opts ...mutation.Option) *List {
	return &List{
		client:  client,
		guard:   guard,
		recipes: mutation.NewCoordinator(mutation.NewStore[PlannedRecipeItem](), opts...),
		extras:  mutation.NewCoordinator(mutation.NewStore[PlannedExtraItem](), opts...),
		items:   mutation.NewCoordinator(mutation.NewStore[GroceryListItem](), opts...),
	}
}

// ID returns the grocery list currently shown.
func (l *List) ID() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.listID
}

// Load fetches planned recipes, planned extras and list items of listID
// concurrently, then loads the ingredients of any planned recipe served
// without them. A recipe whose details fail to load stays empty.
func (l *List) Load(ctx context.Context, listID int64) error {
	query := "?grocery_list=" + strconv.FormatInt(listID, 10)

	var (
		recipes []PlannedRecipeItem
		extras  []PlannedExtraItem
		items   []GroceryListItem
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return backend.GetJSON(egCtx, l.client, KindRecipe.path()+query, &recipes)
	})
	eg.Go(func() error {
		return backend.GetJSON(egCtx, l.client, KindExtra.path()+query, &extras)
	})
	eg.Go(func() error {
		return backend.GetJSON(egCtx, l.client, itemsPath+query, &items)
	})
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("failed to load grocery list %d: %w", listID, err)
	}

	l.loadRecipeDetails(ctx, recipes)

	l.mu.Lock()
	l.listID = listID
	l.recipeOrder = replaceAll(l.recipes, recipes)
	l.extraOrder = replaceAll(l.extras, extras)
	l.itemOrder = replaceAll(l.items, items)
	l.mu.Unlock()

	log.Info().
		Int64("list_id", listID).
		Int("planned_recipes", len(recipes)).
		Int("planned_extras", len(extras)).
		Int("items", len(items)).
		Msg("grocery list loaded")
	return nil
}

func (l *List) loadRecipeDetails(ctx context.Context, planned []PlannedRecipeItem) {
	var eg errgroup.Group
	eg.SetLimit(recipeFetchLimit)
	for i := range planned {
		if planned[i].Recipe.RecipeIngredients != nil {
			continue
		}
		eg.Go(func() error {
			var r recipe.Recipe
			path := fmt.Sprintf(recipePath, planned[i].Recipe.ID)
			if err := backend.GetJSON(ctx, l.client, path, &r); err != nil {
				log.Warn().Err(err).Int64("recipe_id", planned[i].Recipe.ID).Msg("failed to load recipe ingredients")
				return nil
			}
			planned[i].Recipe = r
			return nil
		})
	}
	_ = eg.Wait()
}

type keyed interface {
	Key() string
}

// replaceAll shows values as the new server state. Targets with a mutation
// still settling keep their displayed value; the mutation settles them.
func replaceAll[T keyed](coord *mutation.Coordinator[T], values []T) []string {
	store := coord.Store()
	order := make([]string, 0, len(values))
	for _, v := range values {
		order = append(order, v.Key())
	}
	for _, k := range store.Keys() {
		if !slices.Contains(order, k) && !coord.InFlight(k) {
			store.Delete(k)
		}
	}
	for _, v := range values {
		if !coord.InFlight(v.Key()) {
			store.Set(v.Key(), v)
		}
	}
	return order
}

func collect[T any](store *mutation.Store[T], order []string) []T {
	out := make([]T, 0, len(order))
	for _, k := range order {
		if v, ok := store.Get(k); ok {
			out = append(out, v)
		}
	}
	return out
}

// PlannedRecipes returns the planned recipes currently displayed.
func (l *List) PlannedRecipes() []PlannedRecipeItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return collect(l.recipes.Store(), l.recipeOrder)
}

// PlannedExtras returns the planned extras currently displayed.
func (l *List) PlannedExtras() []PlannedExtraItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return collect(l.extras.Store(), l.extraOrder)
}

// Items returns the server-kept list items with their checked state.
func (l *List) Items() []GroceryListItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return collect(l.items.Store(), l.itemOrder)
}

// Lines recomputes the aggregated shopping lines from what is displayed.
func (l *List) Lines() []AggregatedLine {
	return Aggregate(l.PlannedRecipes(), l.PlannedExtras())
}

// PlanRecipe adds a recipe to the list. Guests below one are raised to one.
func (l *List) PlanRecipe(ctx context.Context, recipeID int64, guests int, plannedOn string) (PlannedRecipeItem, error) {
	body := map[string]any{
		"grocery_list_id": l.ID(),
		"recipe_id":       recipeID,
		"guests":          ClampGuests(guests),
	}
	if plannedOn != "" {
		body["planned_on"] = plannedOn
	}

	var created PlannedRecipeItem
	if err := l.post(ctx, KindRecipe.path(), body, &created); err != nil {
		return PlannedRecipeItem{}, fmt.Errorf("failed to plan recipe %d: %w", recipeID, err)
	}
	if created.Recipe.RecipeIngredients == nil {
		planned := []PlannedRecipeItem{created}
		l.loadRecipeDetails(ctx, planned)
		created = planned[0]
	}

	l.mu.Lock()
	l.recipes.Store().Set(created.Key(), created)
	l.recipeOrder = append(l.recipeOrder, created.Key())
	l.mu.Unlock()
	return created, nil
}

// PlanExtra adds a fixed quantity of an ingredient to the list.
func (l *List) PlanExtra(ctx context.Context, ingredientID, unitID int64, quantity float64) (PlannedExtraItem, error) {
	if quantity <= 0 {
		return PlannedExtraItem{}, fmt.Errorf("quantity must be positive, got %v", quantity)
	}
	body := map[string]any{
		"grocery_list_id": l.ID(),
		"ingredient_id":   ingredientID,
		"unit_id":         unitID,
		"quantity":        quantity,
	}

	var created PlannedExtraItem
	if err := l.post(ctx, KindExtra.path(), body, &created); err != nil {
		return PlannedExtraItem{}, fmt.Errorf("failed to plan extra ingredient %d: %w", ingredientID, err)
	}

	l.mu.Lock()
	l.extras.Store().Set(created.Key(), created)
	l.extraOrder = append(l.extraOrder, created.Key())
	l.mu.Unlock()
	return created, nil
}

func (l *List) post(ctx context.Context, path string, body any, out any) error {
	resp, err := l.guard.Mutate(ctx, backend.Request{Method: http.MethodPost, Path: path, Body: body})
	if err != nil {
		return err
	}
	return backend.DecodeJSON(resp, out)
}

// DeletePlanned removes a planned recipe or extra. It disappears from the
// list at once and comes back if the server refuses.
func (l *List) DeletePlanned(ctx context.Context, kind PlannedKind, id int64) error {
	if _, err := l.guard.AcquireToken(ctx); err != nil {
		return err
	}

	target := strconv.FormatInt(id, 10)
	path := kind.path() + target + "/"
	action := func(ctx context.Context) error {
		_, err := l.guard.Mutate(ctx, backend.Request{Method: http.MethodDelete, Path: path})
		return err
	}

	var err error
	switch kind {
	case KindRecipe:
		_, err = l.recipes.Trigger(ctx, mutation.Request[PlannedRecipeItem]{
			Target: target,
			Kind:   "unplan_recipe",
			Remove: true,
			Action: func(ctx context.Context, _ PlannedRecipeItem) (mutation.Outcome[PlannedRecipeItem], error) {
				return mutation.Outcome[PlannedRecipeItem]{}, action(ctx)
			},
		})
	case KindExtra:
		_, err = l.extras.Trigger(ctx, mutation.Request[PlannedExtraItem]{
			Target: target,
			Kind:   "unplan_extra",
			Remove: true,
			Action: func(ctx context.Context, _ PlannedExtraItem) (mutation.Outcome[PlannedExtraItem], error) {
				return mutation.Outcome[PlannedExtraItem]{}, action(ctx)
			},
		})
	default:
		return fmt.Errorf("unknown planned item kind %q", kind)
	}
	if err != nil {
		return fmt.Errorf("failed to remove planned %s %d: %w", kind, id, err)
	}

	l.mu.Lock()
	if kind == KindRecipe {
		l.recipeOrder = slices.DeleteFunc(l.recipeOrder, func(k string) bool { return k == target })
	} else {
		l.extraOrder = slices.DeleteFunc(l.extraOrder, func(k string) bool { return k == target })
	}
	l.mu.Unlock()
	return nil
}

// ToggleChecked flips the checked state of a list item.
func (l *List) ToggleChecked(ctx context.Context, itemID int64) (GroceryListItem, error) {
	target := strconv.FormatInt(itemID, 10)
	if _, ok := l.items.Store().Get(target); !ok {
		return GroceryListItem{}, fmt.Errorf("grocery item %d is not on list %d", itemID, l.ID())
	}
	if _, err := l.guard.AcquireToken(ctx); err != nil {
		return GroceryListItem{}, err
	}

	rec, err := l.items.Trigger(ctx, mutation.Request[GroceryListItem]{
		Target: target,
		Kind:   "check_item",
		Apply: func(item GroceryListItem) GroceryListItem {
			item.IsChecked = !item.IsChecked
			return item
		},
		Action: func(ctx context.Context, pending GroceryListItem) (mutation.Outcome[GroceryListItem], error) {
			resp, err := l.guard.Mutate(ctx, backend.Request{
				Method: http.MethodPatch,
				Path:   itemsPath + target + "/",
				Body:   map[string]bool{"is_checked": pending.IsChecked},
			})
			if err != nil {
				return mutation.Outcome[GroceryListItem]{}, err
			}
			var updated *GroceryListItem
			if err := backend.DecodeJSON(resp, &updated); err != nil {
				return mutation.Outcome[GroceryListItem]{}, err
			}
			return mutation.Outcome[GroceryListItem]{Value: updated}, nil
		},
	})
	if err != nil {
		return rec.Previous, fmt.Errorf("failed to update grocery item %d: %w", itemID, err)
	}
	return rec.Pending, nil
}
