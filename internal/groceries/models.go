package groceries

import (
	"encoding/json"
	"fmt"
	"strconv"

	"recipe-client/internal/recipe"
)

// MinGuests is the smallest guest count a planned recipe can have.
const MinGuests = 1

// PlannedKind tells planned recipes and planned extras apart.
type PlannedKind string

const (
	KindRecipe PlannedKind = "recipe"
	KindExtra  PlannedKind = "extra"
)

// ParseKind validates a planned item kind given by a user.
func ParseKind(s string) (PlannedKind, error) {
	switch PlannedKind(s) {
	case KindRecipe, KindExtra:
		return PlannedKind(s), nil
	default:
		return "", fmt.Errorf("unknown planned item kind %q, want recipe or extra", s)
	}
}

func (k PlannedKind) path() string {
	return "/api/groceries/planned-" + string(k) + "s/"
}

// GroceryList is a named shopping list owned by the user.
type GroceryList struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// IngredientLine is one ingredient of a recipe, per serving.
type IngredientLine struct {
	Ingredient         recipe.Ingredient
	Unit               recipe.Unit
	QuantityPerServing float64
}

// LinesFromRecipe converts a recipe's ingredients into aggregation input. It
// returns nil when the recipe was served without its ingredients, meaning
// they are still to be loaded.
func LinesFromRecipe(r recipe.Recipe) []IngredientLine {
	if r.RecipeIngredients == nil {
		return nil
	}
	lines := make([]IngredientLine, 0, len(r.RecipeIngredients))
	for _, ri := range r.RecipeIngredients {
		line := IngredientLine{
			Ingredient:         recipe.Ingredient{ID: ri.IngredientID},
			QuantityPerServing: ri.Quantity,
		}
		if ri.Ingredient != nil {
			line.Ingredient = *ri.Ingredient
		}
		if ri.Unit != nil {
			line.Unit = *ri.Unit
		}
		lines = append(lines, line)
	}
	return lines
}

// PlannedRecipeItem is a recipe planned on a grocery list for some guests.
type PlannedRecipeItem struct {
	ID        int64         `json:"id"`
	ListName  string        `json:"grocery_list_name,omitempty"`
	Recipe    recipe.Recipe `json:"recipe"`
	Guests    int           `json:"guests"`
	PlannedOn *string       `json:"planned_on,omitempty"`
}

// NewPlannedRecipe builds a planned recipe with guests clamped to MinGuests.
func NewPlannedRecipe(id int64, r recipe.Recipe, guests int) PlannedRecipeItem {
	return PlannedRecipeItem{ID: id, Recipe: r, Guests: ClampGuests(guests)}
}

// UnmarshalJSON decodes a planned recipe and clamps its guest count.
func (p *PlannedRecipeItem) UnmarshalJSON(data []byte) error {
	type wire PlannedRecipeItem
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = PlannedRecipeItem(w)
	p.Guests = ClampGuests(p.Guests)
	return nil
}

// Lines returns the recipe's ingredient lines, nil while not loaded.
func (p PlannedRecipeItem) Lines() []IngredientLine {
	return LinesFromRecipe(p.Recipe)
}

// Key is the store key of the item.
func (p PlannedRecipeItem) Key() string {
	return strconv.FormatInt(p.ID, 10)
}

// PlannedExtraItem is a fixed quantity of an ingredient added to a list.
type PlannedExtraItem struct {
	ID         int64             `json:"id"`
	ListName   string            `json:"grocery_list_name,omitempty"`
	Ingredient recipe.Ingredient `json:"ingredient"`
	Unit       recipe.Unit       `json:"unit"`
	Quantity   float64           `json:"quantity"`
}

// Key is the store key of the item.
func (e PlannedExtraItem) Key() string {
	return strconv.FormatInt(e.ID, 10)
}

// GroceryListItem is a line of the list as kept by the server, with its
// checked-off state.
type GroceryListItem struct {
	ID          int64             `json:"id"`
	Ingredient  recipe.Ingredient `json:"ingredient"`
	Unit        recipe.Unit       `json:"unit"`
	Quantity    float64           `json:"quantity"`
	IsChecked   bool              `json:"is_checked"`
	FromRecipes string            `json:"from_recipes"`
}

// Key is the store key of the item.
func (g GroceryListItem) Key() string {
	return strconv.FormatInt(g.ID, 10)
}

// ClampGuests returns guests, raised to MinGuests when lower.
func ClampGuests(guests int) int {
	if guests < MinGuests {
		return MinGuests
	}
	return guests
}
