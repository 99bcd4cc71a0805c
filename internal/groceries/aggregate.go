// Package groceries turns planned recipes and extras into a shopping list
// and keeps a grocery list view in sync with the server.
package groceries

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ExtraSource is the provenance label of planned extras.
const ExtraSource = "extra"

// AggregatedLine is the summed quantity of one ingredient in one unit across
// every planned source. It is derived and never edited in place.
type AggregatedLine struct {
	IngredientID   int64
	IngredientName string
	UnitID         int64
	UnitName       string
	// TotalQuantity is unrounded; use DisplayQuantity for output.
	TotalQuantity float64
	Sources       []string
}

// DisplayQuantity is TotalQuantity rounded to two decimals.
func (l AggregatedLine) DisplayQuantity() float64 {
	return math.Round(l.TotalQuantity*100) / 100
}

// Label joins the sources for display.
func (l AggregatedLine) Label() string {
	return strings.Join(l.Sources, ", ")
}

func (l AggregatedLine) String() string {
	qty := strconv.FormatFloat(l.DisplayQuantity(), 'f', -1, 64)
	return fmt.Sprintf("%s %s %s (for %s)", qty, l.UnitName, l.IngredientName, l.Label())
}

type lineKey struct {
	ingredient int64
	unit       int64
}

// Aggregate sums the ingredients of planned recipes, scaled by guests, and
// planned extras, taken as-is. Lines are grouped by ingredient and unit, with
// no conversion between units, and emitted in first-encountered order.
// Recipes whose ingredients are not loaded contribute nothing.
func Aggregate(recipes []PlannedRecipeItem, extras []PlannedExtraItem) []AggregatedLine {
	var lines []AggregatedLine
	index := make(map[lineKey]int)

	add := func(ingredientID int64, ingredientName string, unitID int64, unitName string, qty float64, source string) {
		k := lineKey{ingredient: ingredientID, unit: unitID}
		i, ok := index[k]
		if !ok {
			i = len(lines)
			index[k] = i
			lines = append(lines, AggregatedLine{
				IngredientID:   ingredientID,
				IngredientName: ingredientName,
				UnitID:         unitID,
				UnitName:       unitName,
			})
		}
		lines[i].TotalQuantity += qty
		lines[i].Sources = append(lines[i].Sources, source)
	}

	for _, p := range recipes {
		guests := float64(ClampGuests(p.Guests))
		for _, l := range p.Lines() {
			add(l.Ingredient.ID, l.Ingredient.Name, l.Unit.ID, l.Unit.Name, l.QuantityPerServing*guests, p.Recipe.Title)
		}
	}
	for _, e := range extras {
		add(e.Ingredient.ID, e.Ingredient.Name, e.Unit.ID, e.Unit.Name, e.Quantity, ExtraSource)
	}
	return lines
}
