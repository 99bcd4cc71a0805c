package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"recipe-client/internal/backend"
	"recipe-client/internal/catalog"
	"recipe-client/internal/config"
	"recipe-client/internal/database"
	"recipe-client/internal/groceries"
	"recipe-client/internal/metrics"
	"recipe-client/internal/mutation"
	"recipe-client/internal/pagination"
	"recipe-client/internal/recipe"
	"recipe-client/internal/session"
	"recipe-client/internal/social"

	"github.com/rs/zerolog/log"
)

const summaryLength = 80

// App holds the application's dependencies.
type App struct {
	cfg          *config.Config
	client       backend.Client
	guard        *session.Guard
	db           *database.DB
	metricsStore *metrics.Store

	feed      *social.Feed
	follows   *social.Follows
	ratings   *social.Ratings
	groceries *groceries.List
	recipes   *catalog.Recipes
	explore   *pagination.Cursor[recipe.Recipe]

	out io.Writer
}

// NewApp creates and initializes a new App instance. Every optimistic
// mutation it runs is journaled in metricsStore.
func NewApp(
	cfg *config.Config,
	client backend.Client,
	guard *session.Guard,
	db *database.DB,
	metricsStore *metrics.Store,
) *App {
	j := &journal{store: metricsStore}
	observe := mutation.WithObserver(j.observe)
	recipes := catalog.NewRecipes(client, guard, observe)

	return &App{
		cfg:          cfg,
		client:       client,
		guard:        guard,
		db:           db,
		metricsStore: metricsStore,
		feed:         social.NewFeed(client, guard, observe),
		follows:      social.NewFollows(client, guard, observe),
		ratings:      social.NewRatings(guard, observe),
		groceries:    groceries.NewList(client, guard, observe),
		recipes:      recipes,
		explore:      recipes.Explore(pagination.WithThreshold(cfg.ScrollThreshold)),
		out:          os.Stdout,
	}
}

// SetOutput redirects command output.
func (a *App) SetOutput(w io.Writer) {
	a.out = w
}

// Start resolves the session: security token and sign-in state.
func (a *App) Start(ctx context.Context) error {
	if err := a.guard.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize session: %w", err)
	}
	return nil
}

// Close releases the explore cursor.
func (a *App) Close() {
	a.explore.Close()
}

// Status prints who is signed in and whether actions are available.
func (a *App) Status(ctx context.Context) error {
	s := a.guard.Snapshot()
	if s.Authenticated && s.CurrentUser != nil {
		fmt.Fprintf(a.out, "Signed in as %s (%d followers, following %d)\n",
			s.CurrentUser.Username, s.CurrentUser.FollowerCount, s.CurrentUser.FollowingCount)
	} else {
		fmt.Fprintln(a.out, "Not signed in.")
	}
	if a.guard.CanMutate() {
		fmt.Fprintln(a.out, "Actions: enabled")
	} else {
		fmt.Fprintln(a.out, "Actions: disabled (no security token)")
	}
	return nil
}

// Login signs in.
func (a *App) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}
	if err := a.guard.Login(ctx, username, password); err != nil {
		return err
	}
	return a.Status(ctx)
}

// Signup creates an account. The user signs in afterwards.
func (a *App) Signup(ctx context.Context, form session.Signup) error {
	if form.Username == "" || form.Password == "" {
		return fmt.Errorf("username and password are required")
	}
	if err := a.guard.Signup(ctx, form); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Account %s created. Sign in with login.\n", form.Username)
	return nil
}

// Logout signs out.
func (a *App) Logout(ctx context.Context) error {
	if err := a.guard.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out.")
	return nil
}

// Explore loads up to pages pages of the recipe collection, optionally
// filtered by a search term, and prints them.
func (a *App) Explore(ctx context.Context, term string, pages int) error {
	query, ok := pagination.SearchQuery(term)
	if !ok {
		fmt.Fprintln(a.out, "Type at least 2 characters to search.")
		return nil
	}

	if err := a.explore.LoadInitial(ctx, query); err != nil {
		return err
	}
	for i := 1; i < pages; i++ {
		more, err := a.explore.LoadMore(ctx)
		if err != nil {
			log.Warn().Err(err).Int("page", i+1).Msg("stopped loading recipe pages")
			break
		}
		if !more {
			break
		}
	}

	recipes := a.explore.Items()
	fmt.Fprintln(a.out, "=== RECIPES ===")
	if len(recipes) == 0 {
		fmt.Fprintln(a.out, "No recipes found.")
	}
	for _, r := range recipes {
		a.printRecipe(r)
	}
	if !a.explore.Done() {
		fmt.Fprintf(a.out, "\nMore available; use -pages %d to load further.\n", pages+1)
	}
	return nil
}

func (a *App) printRecipe(r recipe.Recipe) {
	author := r.AuthorUsername
	if author == "" {
		author = "Unknown"
	}
	fmt.Fprintf(a.out, "[%d] %q by %s", r.ID, r.Title, author)
	if r.AverageRating != nil {
		fmt.Fprintf(a.out, "  %.1f/5 (%d ratings)", *r.AverageRating, r.RatingCount)
	}
	fmt.Fprintln(a.out)
	if s := recipe.Summary(r.Content, summaryLength); s != "" {
		fmt.Fprintf(a.out, "      %s\n", s)
	}
}

// Feed prints the activity of followed users.
func (a *App) Feed(ctx context.Context) error {
	events, err := a.feed.Load(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "=== FEED ===")
	if len(events) == 0 {
		fmt.Fprintln(a.out, "Nothing here yet. Follow people to see their activity.")
	}
	for _, e := range events {
		a.printEvent(e)
	}
	return nil
}

func (a *App) printEvent(e recipe.FeedEvent) {
	item, ok := a.feed.Item(e.ID)
	if !ok {
		item = social.FeedItemFromEvent(e)
	}
	heart := " "
	if item.Liked {
		heart = "*"
	}
	fmt.Fprintf(a.out, "[%d] %s %s %q  %s%d likes, %d comments\n",
		e.ID, e.UserUsername, describeEvent(e.EventType), e.Recipe.Title, heart, item.LikeCount, item.CommentCount)
	if e.Rating != nil {
		fmt.Fprintf(a.out, "      rated %.1f/5\n", recipe.ToStars(e.Rating.Rating))
	}
	if s := recipe.Summary(e.Recipe.Content, summaryLength); s != "" {
		fmt.Fprintf(a.out, "      %s\n", s)
	}
}

func describeEvent(t recipe.EventType) string {
	switch t {
	case recipe.EventNewRecipe:
		return "posted"
	case recipe.EventUpdateRecipe:
		return "updated"
	case recipe.EventNewRating, recipe.EventUpdateRating:
		return "rated"
	default:
		return string(t)
	}
}

// trackFeedItem makes sure itemID is tracked, loading the feed if needed.
func (a *App) trackFeedItem(ctx context.Context, itemID int64) error {
	if _, ok := a.feed.Item(itemID); ok {
		return nil
	}
	if _, err := a.feed.Load(ctx); err != nil {
		return err
	}
	if _, ok := a.feed.Item(itemID); !ok {
		return fmt.Errorf("feed item %d is not in your feed", itemID)
	}
	return nil
}

// Like toggles the like on a feed item.
func (a *App) Like(ctx context.Context, itemID int64) error {
	if err := a.trackFeedItem(ctx, itemID); err != nil {
		return err
	}
	item, err := a.feed.ToggleLike(ctx, itemID)
	if err != nil {
		return err
	}
	verb := "Unliked"
	if item.Liked {
		verb = "Liked"
	}
	fmt.Fprintf(a.out, "%s item %d (%d likes).\n", verb, itemID, item.LikeCount)
	return nil
}

// Follow follows or unfollows a user.
func (a *App) Follow(ctx context.Context, userID int64, follow bool) error {
	user, err := a.follows.Set(ctx, userID, follow)
	if err != nil {
		return err
	}
	if user.IsFollowing {
		fmt.Fprintf(a.out, "Following %s.\n", displayUser(user))
	} else {
		fmt.Fprintf(a.out, "No longer following %s.\n", displayUser(user))
	}
	return nil
}

// SearchUsers prints users matching term.
func (a *App) SearchUsers(ctx context.Context, term string) error {
	users, err := a.follows.Search(ctx, term)
	if err != nil {
		return err
	}
	if users == nil {
		fmt.Fprintln(a.out, "Type at least 2 characters to search.")
		return nil
	}
	for _, u := range users {
		mark := " "
		if u.IsFollowing {
			mark = "x"
		}
		fmt.Fprintf(a.out, "[%s] %d %s\n", mark, u.ID, u.Username)
	}
	return nil
}

func displayUser(u recipe.SearchedUser) string {
	if u.Username != "" {
		return u.Username
	}
	return fmt.Sprintf("user %d", u.ID)
}

// Comment posts text on a feed item and prints the thread.
func (a *App) Comment(ctx context.Context, itemID int64, text string) error {
	thread := a.feed.Comments(itemID)
	if err := thread.Load(ctx); err != nil {
		return err
	}
	if err := a.trackFeedItem(ctx, itemID); err != nil {
		log.Warn().Err(err).Int64("item", itemID).Msg("posting without item counts")
	}
	if _, err := thread.Post(ctx, text); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "=== COMMENTS ON %d ===\n", itemID)
	for _, c := range thread.List() {
		fmt.Fprintf(a.out, "%s: %s\n", c.Username, c.Text)
	}
	return nil
}

// Rate rates a recipe on the 0-5 star scale. An existing rating is updated
// in place when ratingID names it or when the feed shows the user rating the
// recipe; otherwise a new rating is created.
func (a *App) Rate(ctx context.Context, recipeID, ratingID int64, stars float64) error {
	if _, tracked := a.ratings.Get(recipeID); !tracked {
		switch s := a.guard.Snapshot(); {
		case ratingID != 0:
			a.ratings.Track(recipe.Rating{ID: ratingID, Recipe: recipeID})
		case s.CurrentUser != nil:
			events, err := a.feed.Load(ctx)
			if err != nil {
				log.Warn().Err(err).Int64("recipe_id", recipeID).Msg("could not look up an existing rating")
			}
			a.ratings.TrackOwn(s.CurrentUser.Username, events...)
		}
	}

	r, err := a.ratings.Rate(ctx, recipeID, stars)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Rated recipe %d with %.1f stars.\n", recipeID, recipe.ToStars(r.Rating))
	return nil
}

// Groceries loads a grocery list and prints its plan and aggregated lines.
func (a *App) Groceries(ctx context.Context, listID int64) error {
	if err := a.groceries.Load(ctx, listID); err != nil {
		return err
	}
	a.printGroceries()
	return nil
}

func (a *App) printGroceries() {
	fmt.Fprintf(a.out, "=== PLANNED RECIPES (list %d) ===\n", a.groceries.ID())
	for _, p := range a.groceries.PlannedRecipes() {
		on := ""
		if p.PlannedOn != nil {
			on = " on " + *p.PlannedOn
		}
		fmt.Fprintf(a.out, "[%d] %s for %d%s\n", p.ID, p.Recipe.Title, p.Guests, on)
	}

	fmt.Fprintln(a.out, "\n=== EXTRAS ===")
	for _, e := range a.groceries.PlannedExtras() {
		fmt.Fprintf(a.out, "[%d] %g %s %s\n", e.ID, e.Quantity, e.Unit.Name, e.Ingredient.Name)
	}

	fmt.Fprintln(a.out, "\n=== SHOPPING LIST ===")
	for _, line := range a.groceries.Lines() {
		fmt.Fprintf(a.out, "- %s\n", line)
	}

	if items := a.groceries.Items(); len(items) > 0 {
		fmt.Fprintln(a.out, "\n=== ITEMS ===")
		for _, it := range items {
			fmt.Fprintf(a.out, "%s [%d] %g %s %s\n", checkbox(it.IsChecked), it.ID, it.Quantity, it.Unit.Name, it.Ingredient.Name)
		}
	}
}

func checkbox(checked bool) string {
	if checked {
		return "[x]"
	}
	return "[ ]"
}

// Check toggles the checked mark of a grocery item.
func (a *App) Check(ctx context.Context, listID, itemID int64) error {
	if err := a.groceries.Load(ctx, listID); err != nil {
		return err
	}
	item, err := a.groceries.ToggleChecked(ctx, itemID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", checkbox(item.IsChecked), item.Ingredient.Name)
	return nil
}

// Plan adds a recipe to a grocery list.
func (a *App) Plan(ctx context.Context, listID, recipeID int64, guests int, plannedOn string) error {
	if err := a.groceries.Load(ctx, listID); err != nil {
		return err
	}
	if _, err := a.groceries.PlanRecipe(ctx, recipeID, guests, plannedOn); err != nil {
		return err
	}
	a.printGroceries()
	return nil
}

// PlanExtra adds a fixed quantity of an ingredient to a grocery list.
func (a *App) PlanExtra(ctx context.Context, listID, ingredientID, unitID int64, quantity float64) error {
	if err := a.groceries.Load(ctx, listID); err != nil {
		return err
	}
	if _, err := a.groceries.PlanExtra(ctx, ingredientID, unitID, quantity); err != nil {
		return err
	}
	a.printGroceries()
	return nil
}

// Unplan removes a planned recipe or extra from a grocery list.
func (a *App) Unplan(ctx context.Context, listID int64, kind string, id int64) error {
	k, err := groceries.ParseKind(kind)
	if err != nil {
		return err
	}
	if err := a.groceries.Load(ctx, listID); err != nil {
		return err
	}
	if err := a.groceries.DeletePlanned(ctx, k, id); err != nil {
		return err
	}
	a.printGroceries()
	return nil
}

// Lists prints the user's grocery lists.
func (a *App) Lists(ctx context.Context) error {
	lists, err := groceries.Lists(ctx, a.client)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "=== GROCERY LISTS ===")
	if len(lists) == 0 {
		fmt.Fprintln(a.out, "No grocery lists yet. Create one with create-list.")
	}
	for _, l := range lists {
		fmt.Fprintf(a.out, "[%d] %s\n", l.ID, l.Name)
	}
	return nil
}

// CreateList creates a grocery list and prints the lists.
func (a *App) CreateList(ctx context.Context, name string) error {
	if err := groceries.CreateList(ctx, a.guard, name); err != nil {
		return err
	}
	return a.Lists(ctx)
}

// MyRecipes prints the user's own recipes.
func (a *App) MyRecipes(ctx context.Context) error {
	mine, err := a.recipes.LoadMine(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "=== MY RECIPES ===")
	if len(mine) == 0 {
		fmt.Fprintln(a.out, "No recipes yet.")
	}
	for _, r := range mine {
		a.printRecipe(r)
	}
	return nil
}

// DeleteRecipe deletes one of the user's recipes.
func (a *App) DeleteRecipe(ctx context.Context, recipeID int64) error {
	if _, err := a.recipes.LoadMine(ctx); err != nil {
		return err
	}
	if err := a.recipes.Delete(ctx, recipeID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted recipe %d.\n", recipeID)
	return nil
}

// Ingredients prints the ingredient catalogue, for use with plan-extra.
func (a *App) Ingredients(ctx context.Context) error {
	ingredients, err := catalog.Ingredients(ctx, a.client)
	if err != nil {
		return err
	}
	for _, in := range ingredients {
		fmt.Fprintf(a.out, "%d\t%s\n", in.ID, in.Name)
	}
	return nil
}

// Units prints the measurement units, for use with plan-extra.
func (a *App) Units(ctx context.Context) error {
	units, err := catalog.Units(ctx, a.client)
	if err != nil {
		return err
	}
	for _, u := range units {
		fmt.Fprintf(a.out, "%d\t%s\n", u.ID, u.Name)
	}
	return nil
}

// Stats prints the mutation journal for the last days.
func (a *App) Stats(ctx context.Context, days int) error {
	usage, err := a.metricsStore.GetDailyUsage(ctx, days)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "=== ACTIONS (last %d days) ===\n", days)
	if len(usage) == 0 {
		fmt.Fprintln(a.out, "No actions recorded.")
		return nil
	}
	fmt.Fprintf(a.out, "%-10s  %6s  %9s  %11s  %8s\n", "Date", "Total", "Committed", "Rolled back", "Avg ms")
	for _, u := range usage {
		fmt.Fprintf(a.out, "%-10s  %6d  %9d  %11d  %8.0f\n", u.Date, u.Total, u.Committed, u.RolledBack, u.AvgLatencyMS)
	}
	return nil
}

// CleanupMetrics removes journal records older than days.
func (a *App) CleanupMetrics(ctx context.Context, days int) error {
	affected, err := a.metricsStore.Cleanup(ctx, days)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Successfully removed %d old metric records.\n", affected)
	return nil
}

// Health prints process and data directory health.
func (a *App) Health() {
	h := metrics.GetSysHealth(a.cfg.DatabasePath)
	var b strings.Builder
	fmt.Fprintln(&b, "=== HEALTH ===")
	fmt.Fprintf(&b, "Go:         %s\n", h.GoVersion)
	fmt.Fprintf(&b, "Memory:     %d MB allocated, %d MB from OS\n", h.AllocMB, h.SysMB)
	fmt.Fprintf(&b, "GC cycles:  %d\n", h.NumGC)
	fmt.Fprintf(&b, "Goroutines: %d\n", h.Goroutines)
	fmt.Fprintf(&b, "Data:       %s (%s)\n", h.DataDir, h.DataDirSize)
	fmt.Fprint(a.out, b.String())
}
