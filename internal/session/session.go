// Package session owns the process-wide authentication state: the
// anti-forgery token, whether the user is signed in, and who they are.
//
// Every state-mutating request in the client goes through Guard.Mutate, which
// attaches the current token and, when the server rejects it, refreshes the
// token and retries exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"recipe-client/internal/backend"
	"recipe-client/internal/metrics"
	"recipe-client/internal/recipe"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	tokenPath  = "/api/auth/csrf/"
	statusPath = "/api/auth/status/"
	loginPath  = "/api/auth/login/"
	logoutPath = "/api/auth/logout/"
	signupPath = "/api/auth/signup/"

	tokenFlightKey = "csrf"
)

// notice is an error that also carries the text shown to the user.
type notice struct {
	text string
	user string
}

func (e *notice) Error() string       { return e.text }
func (e *notice) UserMessage() string { return e.user }

var (
	// ErrNoToken means no anti-forgery token is held and none could be fetched.
	ErrNoToken error = &notice{
		text: "security token unavailable",
		user: "Actions are unavailable: the server did not issue a security token. Try again shortly.",
	}
	// ErrPasswordMismatch is returned by Signup before any request is sent.
	ErrPasswordMismatch error = &notice{
		text: "password confirmation does not match",
		user: "Passwords do not match.",
	}
	// ErrAuthRejected means a request was refused again after one token refresh.
	ErrAuthRejected error = &notice{
		text: "request rejected after token refresh",
		user: "Your session is no longer valid. Please sign in again.",
	}
)

// Session is a snapshot of the authentication state.
type Session struct {
	SecurityToken string
	Authenticated bool
	CurrentUser   *recipe.UserSummary
	// Loading is true until both the initial token fetch and status check
	// have resolved. Consumers must not read it as "signed out".
	Loading bool
}

// Guard is the single owner of Session. It is safe for concurrent use.
type Guard struct {
	client backend.Client
	flight singleflight.Group

	mu             sync.RWMutex
	state          Session
	tokenResolved  bool
	statusResolved bool
	// generation increments whenever the token is discarded so that a fetch
	// started before the discard cannot store a stale token.
	generation uint64
}

// NewGuard creates a Guard holding an empty, loading session.
func NewGuard(client backend.Client) *Guard {
	return &Guard{
		client: client,
		state:  Session{Loading: true},
	}
}

// Snapshot returns a copy of the current session.
func (g *Guard) Snapshot() Session {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := g.state
	if s.CurrentUser != nil {
		user := *s.CurrentUser
		s.CurrentUser = &user
	}
	return s
}

// CanMutate reports whether a token is held, i.e. mutating controls may be enabled.
func (g *Guard) CanMutate() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.SecurityToken != ""
}

// Init populates the session at startup: token fetch and status check run
// together and Loading clears once both have resolved. A missing token is not
// an error here; the client simply runs without mutations.
func (g *Guard) Init(ctx context.Context) error {
	var eg errgroup.Group
	eg.Go(func() error {
		if _, err := g.AcquireToken(ctx); err != nil && !errors.Is(err, ErrNoToken) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		return g.CheckStatus(ctx)
	})
	return eg.Wait()
}

// AcquireToken returns the held token or fetches one. Concurrent callers share
// a single fetch. On failure the session degrades to having no token and
// ErrNoToken is returned.
func (g *Guard) AcquireToken(ctx context.Context) (string, error) {
	g.mu.RLock()
	token := g.state.SecurityToken
	g.mu.RUnlock()
	if token != "" {
		return token, nil
	}

	// The shared fetch must not inherit one caller's cancellation; a caller
	// that gives up stops waiting while the others still get the token.
	fetchCtx := context.WithoutCancel(ctx)
	ch := g.flight.DoChan(tokenFlightKey, func() (any, error) {
		g.mu.RLock()
		generation := g.generation
		g.mu.RUnlock()
		return g.fetchToken(fetchCtx, generation), nil
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("gave up waiting for security token: %w", ctx.Err())
	case res := <-ch:
		token = res.Val.(string)
	}
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

func (g *Guard) fetchToken(ctx context.Context, generation uint64) string {
	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	err := backend.GetJSON(ctx, g.client, tokenPath, &body)
	if err == nil && body.CSRFToken == "" {
		err = fmt.Errorf("token endpoint returned an empty token")
	}
	metrics.ObserveTokenFetch(err)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.tokenResolved = true
	g.finishLoadingLocked()

	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch security token, mutations disabled")
		if g.generation == generation {
			g.state.SecurityToken = ""
		}
		return ""
	}
	if g.generation != generation {
		log.Debug().Msg("discarding security token fetched before logout")
		return g.state.SecurityToken
	}
	g.state.SecurityToken = body.CSRFToken
	return body.CSRFToken
}

// RefreshToken discards the held token and fetches a new one.
func (g *Guard) RefreshToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	g.discardTokenLocked()
	g.mu.Unlock()
	return g.AcquireToken(ctx)
}

// discardStale drops token only if it is still the held one, so concurrent
// callers that hit the same rejection share one refresh.
func (g *Guard) discardStale(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.SecurityToken == token {
		g.discardTokenLocked()
	}
}

func (g *Guard) discardTokenLocked() {
	g.state.SecurityToken = ""
	g.generation++
	g.flight.Forget(tokenFlightKey)
}

func (g *Guard) finishLoadingLocked() {
	if g.tokenResolved && g.statusResolved {
		g.state.Loading = false
	}
}

// CheckStatus fetches the authentication state and user profile. On failure
// the session is treated as signed out and the error is returned.
func (g *Guard) CheckStatus(ctx context.Context) error {
	g.mu.Lock()
	g.statusResolved = false
	g.state.Loading = true
	g.mu.Unlock()

	var body struct {
		Authenticated bool                `json:"authenticated"`
		User          *recipe.UserSummary `json:"user"`
	}
	err := backend.GetJSON(ctx, g.client, statusPath, &body)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.statusResolved = true
	g.finishLoadingLocked()

	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch auth status")
		g.state.Authenticated = false
		g.state.CurrentUser = nil
		return fmt.Errorf("failed to check auth status: %w", err)
	}

	g.state.Authenticated = body.Authenticated
	if body.Authenticated {
		g.state.CurrentUser = body.User
	} else {
		g.state.CurrentUser = nil
	}
	return nil
}

// Login signs in and refreshes the session. The server rotates the token on
// login, so a fresh one is fetched afterwards.
func (g *Guard) Login(ctx context.Context, username, password string) error {
	_, err := g.Mutate(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   loginPath,
		Body:   map[string]string{"username": username, "password": password},
	})
	if err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}

	g.mu.Lock()
	g.discardTokenLocked()
	g.mu.Unlock()

	if _, err := g.AcquireToken(ctx); err != nil {
		log.Warn().Err(err).Msg("signed in but no security token is available")
	}
	return g.CheckStatus(ctx)
}

// Signup is a new account request.
type Signup struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Email           string `json:"email"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
}

// Signup creates an account. It does not sign in; field errors from the
// server come back as a validation APIError.
func (g *Guard) Signup(ctx context.Context, form Signup) error {
	if form.Password != form.ConfirmPassword {
		return ErrPasswordMismatch
	}
	if _, err := g.Mutate(ctx, backend.Request{Method: http.MethodPost, Path: signupPath, Body: form}); err != nil {
		return fmt.Errorf("failed to sign up: %w", err)
	}
	log.Info().Str("username", form.Username).Msg("account created")
	return nil
}

// Logout ends the session. On success the old token is discarded and a fresh
// one requested right away so a following login works without an extra round
// trip. On failure the session is left unchanged.
func (g *Guard) Logout(ctx context.Context) error {
	if _, err := g.Mutate(ctx, backend.Request{Method: http.MethodPost, Path: logoutPath}); err != nil {
		log.Error().Err(err).Msg("logout failed")
		return fmt.Errorf("failed to log out: %w", err)
	}

	g.mu.Lock()
	g.state.Authenticated = false
	g.state.CurrentUser = nil
	g.discardTokenLocked()
	g.mu.Unlock()

	if _, err := g.AcquireToken(ctx); err != nil {
		log.Warn().Err(err).Msg("logged out but could not fetch a new security token")
	}
	return nil
}

// Mutate sends a state-mutating request with the current token attached. An
// authentication rejection triggers one token refresh and one retry; a second
// rejection is returned wrapped in ErrAuthRejected.
func (g *Guard) Mutate(ctx context.Context, req backend.Request) (*backend.Response, error) {
	resp, used, err := g.send(ctx, req)
	if !backend.IsKind(err, backend.KindAuth) {
		return resp, err
	}

	log.Warn().Err(err).Str("path", req.Path).Msg("request rejected, refreshing security token")
	g.discardStale(used)

	resp, _, err = g.send(ctx, req)
	if backend.IsKind(err, backend.KindAuth) {
		return nil, fmt.Errorf("%w: %w", ErrAuthRejected, err)
	}
	return resp, err
}

func (g *Guard) send(ctx context.Context, req backend.Request) (*backend.Response, string, error) {
	token, err := g.AcquireToken(ctx)
	if err != nil {
		return nil, "", err
	}
	req.Token = token
	resp, err := g.client.Do(ctx, req)
	return resp, token, err
}
