package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"recipe-client/internal/app"
	"recipe-client/internal/backend"
	"recipe-client/internal/config"
	"recipe-client/internal/database"
	"recipe-client/internal/metrics"
	"recipe-client/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("Invalid LOG_LEVEL")
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client, err := backend.NewClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize backend client")
	}

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	application := app.NewApp(cfg, client, session.NewGuard(client), db, metrics.NewStore(db.SQL))
	defer application.Close()

	// Local commands do not need a session.
	switch os.Args[1] {
	case "stats", "metrics-cleanup", "health":
	default:
		if err := application.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("Session could not be fully resolved")
		}
	}

	if os.Args[1] == "shell" {
		if cfg.MetricsAddr != "" {
			go serveMetrics(cfg.MetricsAddr)
		}
		shell(ctx, application)
		return
	}

	if err := run(ctx, application, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			printUsage()
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, backend.UserMessage(err))
		log.Debug().Err(err).Str("command", os.Args[1]).Msg("command failed")
		os.Exit(1)
	}
}

var errUsage = errors.New("unknown command")

// run executes one command line against application.
func run(ctx context.Context, a *app.App, args []string) error {
	name, rest := args[0], args[1:]
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	switch name {
	case "status":
		return a.Status(ctx)
	case "login":
		username := fs.String("u", "", "Username")
		password := fs.String("p", "", "Password")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.Login(ctx, *username, *password)
	case "signup":
		var form session.Signup
		fs.StringVar(&form.Username, "u", "", "Username")
		fs.StringVar(&form.Password, "p", "", "Password")
		fs.StringVar(&form.ConfirmPassword, "confirm", "", "Password again")
		fs.StringVar(&form.Email, "email", "", "Email address")
		fs.StringVar(&form.FirstName, "first", "", "First name")
		fs.StringVar(&form.LastName, "last", "", "Last name")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.Signup(ctx, form)
	case "logout":
		return a.Logout(ctx)
	case "explore":
		search := fs.String("search", "", "Search term (2 characters or more)")
		pages := fs.Int("pages", 1, "Number of pages to load")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.Explore(ctx, *search, max(*pages, 1))
	case "feed":
		return a.Feed(ctx)
	case "mine":
		return a.MyRecipes(ctx)
	case "delete-recipe":
		recipeID := fs.Int64("recipe", 0, "Recipe ID")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.DeleteRecipe(ctx, *recipeID)
	case "like":
		item := fs.Int64("item", 0, "Feed item ID")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.Like(ctx, *item)
	case "users":
		search := fs.String("search", "", "Username to search for")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.SearchUsers(ctx, *search)
	case "follow":
		user := fs.Int64("user", 0, "User ID")
		unfollow := fs.Bool("unfollow", false, "Unfollow instead")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.Follow(ctx, *user, !*unfollow)
	case "comment":
		item := fs.Int64("item", 0, "Feed item ID")
		text := fs.String("text", "", "Comment text")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.Comment(ctx, *item, *text)
	case "rate":
		recipeID := fs.Int64("recipe", 0, "Recipe ID")
		ratingID := fs.Int64("rating-id", 0, "ID of your existing rating, if the feed does not show it")
		stars := fs.Float64("stars", 0, "Rating from 0 to 5 in half steps")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.Rate(ctx, *recipeID, *ratingID, *stars)
	case "lists":
		return a.Lists(ctx)
	case "create-list":
		name := fs.String("name", "", "Grocery list name")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.CreateList(ctx, *name)
	case "groceries":
		list := fs.Int64("list", 0, "Grocery list ID")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.Groceries(ctx, *list)
	case "check":
		list := fs.Int64("list", 0, "Grocery list ID")
		item := fs.Int64("item", 0, "Grocery item ID")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.Check(ctx, *list, *item)
	case "plan":
		list := fs.Int64("list", 0, "Grocery list ID")
		recipeID := fs.Int64("recipe", 0, "Recipe ID")
		guests := fs.Int("guests", 1, "Number of guests")
		on := fs.String("on", "", "Planned date (YYYY-MM-DD)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.Plan(ctx, *list, *recipeID, *guests, *on)
	case "plan-extra":
		list := fs.Int64("list", 0, "Grocery list ID")
		ingredient := fs.Int64("ingredient", 0, "Ingredient ID (see ingredients)")
		unit := fs.Int64("unit", 0, "Unit ID (see units)")
		qty := fs.Float64("qty", 0, "Quantity")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.PlanExtra(ctx, *list, *ingredient, *unit, *qty)
	case "ingredients":
		return a.Ingredients(ctx)
	case "units":
		return a.Units(ctx)
	case "unplan":
		list := fs.Int64("list", 0, "Grocery list ID")
		kind := fs.String("kind", "recipe", "recipe or extra")
		id := fs.Int64("id", 0, "Planned item ID")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.Unplan(ctx, *list, *kind, *id)
	case "stats":
		days := fs.Int("days", 7, "Number of days to show")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.Stats(ctx, *days)
	case "metrics-cleanup":
		days := fs.Int("days", 30, "Keep records for the last N days")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return a.CleanupMetrics(ctx, *days)
	case "health":
		a.Health()
		return nil
	default:
		return fmt.Errorf("%w: %s", errUsage, name)
	}
}

// shell reads commands from stdin so one session serves many actions.
func shell(ctx context.Context, a *app.App) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		args := strings.Fields(scanner.Text())
		switch {
		case len(args) == 0:
		case args[0] == "exit" || args[0] == "quit":
			return
		default:
			if err := run(ctx, a, args); err != nil {
				if errors.Is(err, errUsage) {
					fmt.Printf("Unknown command: %s\n", args[0])
				} else if !errors.Is(err, flag.ErrHelp) {
					fmt.Println(backend.UserMessage(err))
					log.Debug().Err(err).Str("command", args[0]).Msg("command failed")
				}
			}
		}
		fmt.Print("> ")
	}
}

func serveMetrics(addr string) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := http.ListenAndServe(addr, r); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Metrics server stopped")
	}
}

func printUsage() {
	fmt.Println("Usage: recipe-client <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  status                  Show who is signed in and whether actions are enabled")
	fmt.Println("  signup -u -p -confirm   Create an account (-email, -first, -last)")
	fmt.Println("  login -u -p             Sign in")
	fmt.Println("  logout                  Sign out")
	fmt.Println("  explore                 Browse recipes (-search, -pages)")
	fmt.Println("  mine                    List your own recipes")
	fmt.Println("  delete-recipe -recipe   Delete one of your recipes")
	fmt.Println("  feed                    Show activity of the people you follow")
	fmt.Println("  like -item              Like or unlike a feed item")
	fmt.Println("  comment -item -text     Comment on a feed item")
	fmt.Println("  users -search           Search users")
	fmt.Println("  follow -user            Follow a user (-unfollow to stop)")
	fmt.Println("  rate -recipe -stars     Rate a recipe (-rating-id to update a known rating)")
	fmt.Println("  lists                   List your grocery lists")
	fmt.Println("  create-list -name       Create a grocery list")
	fmt.Println("  groceries -list         Show a grocery list with aggregated quantities")
	fmt.Println("  plan -list -recipe      Plan a recipe (-guests, -on)")
	fmt.Println("  plan-extra -list -ingredient -unit -qty  Add an ingredient to a list")
	fmt.Println("  ingredients             List ingredient IDs")
	fmt.Println("  units                   List unit IDs")
	fmt.Println("  unplan -list -kind -id  Remove a planned recipe or extra")
	fmt.Println("  check -list -item       Check or uncheck a grocery item")
	fmt.Println("  shell                   Run commands interactively in one session")
	fmt.Println("  stats                   Show recorded actions (-days)")
	fmt.Println("  metrics-cleanup         Remove old metric records (-days)")
	fmt.Println("  health                  Show process and data health")
}
