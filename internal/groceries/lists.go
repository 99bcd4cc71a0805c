package groceries

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"recipe-client/internal/backend"
	"recipe-client/internal/session"

	"github.com/rs/zerolog/log"
)

// The list index and creation endpoints predate the JSON API.
const (
	listsPath      = "/recipes/get_grocery_lists"
	createListPath = "/recipes/create_grocery_list/"
)

// Lists returns the user's grocery lists ordered by ID. The server answers
// with an object keyed by list ID.
func Lists(ctx context.Context, client backend.Client) ([]GroceryList, error) {
	var byID map[string]GroceryList
	if err := backend.GetJSON(ctx, client, listsPath, &byID); err != nil {
		return nil, fmt.Errorf("failed to load grocery lists: %w", err)
	}

	lists := make([]GroceryList, 0, len(byID))
	for key, l := range byID {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			log.Warn().Str("key", key).Msg("skipping grocery list with a malformed ID")
			continue
		}
		l.ID = id
		lists = append(lists, l)
	}
	slices.SortFunc(lists, func(a, b GroceryList) int { return cmp.Compare(a.ID, b.ID) })
	return lists, nil
}

// CreateList creates a grocery list named name.
func CreateList(ctx context.Context, guard *session.Guard, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("grocery list name is empty")
	}
	_, err := guard.Mutate(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   createListPath,
		Form:   url.Values{"name": {name}},
	})
	if err != nil {
		return fmt.Errorf("failed to create grocery list %q: %w", name, err)
	}
	log.Info().Str("name", name).Msg("grocery list created")
	return nil
}
