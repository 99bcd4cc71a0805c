package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"recipe-client/internal/backend"
	"recipe-client/internal/config"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuthServer issues sequential tokens t1, t2, ... and accepts only the
// latest one on mutating requests.
type fakeAuthServer struct {
	tokenCalls atomic.Int32
	tokenDelay time.Duration
	// tokenStarted and tokenGate, when set, hold the token response until
	// the gate is closed.
	tokenStarted  chan struct{}
	tokenGate     chan struct{}
	tokenFails    atomic.Bool
	statusFails   atomic.Bool
	authenticated atomic.Bool

	mu      sync.Mutex
	current string
}

func (f *fakeAuthServer) router() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/api/auth/csrf/", func(w http.ResponseWriter, req *http.Request) {
		n := f.tokenCalls.Add(1)
		if f.tokenGate != nil {
			f.tokenStarted <- struct{}{}
			<-f.tokenGate
		}
		time.Sleep(f.tokenDelay)
		if f.tokenFails.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		token := fmt.Sprintf("t%d", n)
		f.mu.Lock()
		f.current = token
		f.mu.Unlock()
		fmt.Fprintf(w, `{"csrfToken": %q}`, token)
	})
	r.Get("/api/auth/status/", func(w http.ResponseWriter, req *http.Request) {
		if f.statusFails.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if f.authenticated.Load() {
			fmt.Fprintln(w, `{"authenticated": true, "user": {"id": 1, "username": "ana", "follower_count": 3}}`)
			return
		}
		fmt.Fprintln(w, `{"authenticated": false}`)
	})
	r.Post("/api/auth/logout/", func(w http.ResponseWriter, req *http.Request) {
		if !f.validToken(w, req) {
			return
		}
		f.authenticated.Store(false)
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/api/auth/login/", func(w http.ResponseWriter, req *http.Request) {
		if !f.validToken(w, req) {
			return
		}
		f.authenticated.Store(true)
		fmt.Fprintln(w, `{"detail": "ok"}`)
	})
	return r
}

func (f *fakeAuthServer) validToken(w http.ResponseWriter, req *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Header.Get(backend.TokenHeader) != f.current {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprintln(w, `{"detail": "CSRF Failed: CSRF token incorrect."}`)
		return false
	}
	return true
}

func newTestGuard(t *testing.T, handler http.Handler) *Guard {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := backend.NewClient(&config.Config{BackendURL: server.URL, RequestTimeout: 5 * time.Second})
	require.NoError(t, err)
	return NewGuard(client)
}

func TestInit(t *testing.T) {
	ctx := context.Background()

	t.Run("Authenticated", func(t *testing.T) {
		fake := &fakeAuthServer{}
		fake.authenticated.Store(true)
		guard := newTestGuard(t, fake.router())

		assert.True(t, guard.Snapshot().Loading, "session must start in loading state")

		require.NoError(t, guard.Init(ctx))
		s := guard.Snapshot()
		assert.False(t, s.Loading)
		assert.True(t, s.Authenticated)
		require.NotNil(t, s.CurrentUser)
		assert.Equal(t, "ana", s.CurrentUser.Username)
		assert.Equal(t, "t1", s.SecurityToken)
		assert.True(t, guard.CanMutate())
	})

	t.Run("TokenUnavailableDegrades", func(t *testing.T) {
		fake := &fakeAuthServer{}
		fake.tokenFails.Store(true)
		guard := newTestGuard(t, fake.router())

		require.NoError(t, guard.Init(ctx))
		s := guard.Snapshot()
		assert.False(t, s.Loading)
		assert.Empty(t, s.SecurityToken)
		assert.False(t, guard.CanMutate())

		_, err := guard.AcquireToken(ctx)
		assert.ErrorIs(t, err, ErrNoToken)
	})

	t.Run("StatusFailureIsSignedOut", func(t *testing.T) {
		fake := &fakeAuthServer{}
		fake.authenticated.Store(true)
		fake.statusFails.Store(true)
		guard := newTestGuard(t, fake.router())

		require.Error(t, guard.Init(ctx))
		s := guard.Snapshot()
		assert.False(t, s.Loading)
		assert.False(t, s.Authenticated)
		assert.Nil(t, s.CurrentUser)
		assert.Equal(t, "t1", s.SecurityToken, "token fetch is independent of the status check")
	})
}

func TestAcquireToken_SharedFetch(t *testing.T) {
	fake := &fakeAuthServer{tokenDelay: 50 * time.Millisecond}
	guard := newTestGuard(t, fake.router())

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := guard.AcquireToken(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), fake.tokenCalls.Load(), "concurrent callers must share one fetch")
	for _, tok := range tokens {
		assert.Equal(t, "t1", tok)
	}
}

func TestAcquireToken_CancelledCallerDoesNotBreakSharedFetch(t *testing.T) {
	fake := &fakeAuthServer{
		tokenStarted: make(chan struct{}, 1),
		tokenGate:    make(chan struct{}),
	}
	guard := newTestGuard(t, fake.router())

	cancelled, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := guard.AcquireToken(cancelled)
		firstErr <- err
	}()

	<-fake.tokenStarted
	cancel()
	err := <-firstErr
	assert.ErrorIs(t, err, context.Canceled)

	// The fetch is still held open by the server, so this caller joins it.
	second := make(chan string, 1)
	go func() {
		tok, err := guard.AcquireToken(context.Background())
		assert.NoError(t, err)
		second <- tok
	}()
	close(fake.tokenGate)

	assert.Equal(t, "t1", <-second)
	assert.Equal(t, int32(1), fake.tokenCalls.Load())
	assert.True(t, guard.CanMutate())
}

func TestLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("ClearsStateAndFetchesFreshToken", func(t *testing.T) {
		fake := &fakeAuthServer{}
		fake.authenticated.Store(true)
		guard := newTestGuard(t, fake.router())
		require.NoError(t, guard.Init(ctx))

		require.NoError(t, guard.Logout(ctx))
		s := guard.Snapshot()
		assert.False(t, s.Authenticated)
		assert.Nil(t, s.CurrentUser)
		assert.Equal(t, "t2", s.SecurityToken, "a new token must be requested right after logout")
	})

	t.Run("FailureLeavesStateUnchanged", func(t *testing.T) {
		fake := &fakeAuthServer{}
		fake.authenticated.Store(true)
		guard := newTestGuard(t, fake.router())
		require.NoError(t, guard.Init(ctx))

		// Token no longer matches anything the server accepts: both attempts fail.
		fake.mu.Lock()
		fake.current = "revoked"
		fake.mu.Unlock()
		fake.tokenFails.Store(true)

		before := guard.Snapshot()
		err := guard.Logout(ctx)
		require.Error(t, err)

		after := guard.Snapshot()
		assert.True(t, after.Authenticated)
		assert.Equal(t, before.CurrentUser, after.CurrentUser)
	})

	t.Run("NoTokenAvailable", func(t *testing.T) {
		fake := &fakeAuthServer{}
		fake.tokenFails.Store(true)
		guard := newTestGuard(t, fake.router())

		err := guard.Logout(ctx)
		assert.ErrorIs(t, err, ErrNoToken)
		assert.Equal(t, ErrNoToken.(*notice).user, backend.UserMessage(err))
	})
}

func TestLogin_RotatesToken(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAuthServer{}
	guard := newTestGuard(t, fake.router())
	require.NoError(t, guard.Init(ctx))
	require.False(t, guard.Snapshot().Authenticated)

	require.NoError(t, guard.Login(ctx, "ana", "secret"))
	s := guard.Snapshot()
	assert.True(t, s.Authenticated)
	assert.Equal(t, "t2", s.SecurityToken)
}

func TestSignup(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAuthServer{}
	var created atomic.Int32
	r := fake.router()
	r.Post("/api/auth/signup/", func(w http.ResponseWriter, req *http.Request) {
		if !fake.validToken(w, req) {
			return
		}
		var body map[string]string
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, body["password"], body["confirm_password"])
		if body["username"] == "taken" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, `{"username": ["A user with that username already exists."]}`)
			return
		}
		created.Add(1)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id": 5, "username": %q}`, body["username"])
	})
	guard := newTestGuard(t, r)
	require.NoError(t, guard.Init(ctx))

	form := Signup{Username: "bo", Password: "pw", ConfirmPassword: "pw", Email: "bo@example.com"}
	require.NoError(t, guard.Signup(ctx, form))
	assert.Equal(t, int32(1), created.Load())
	assert.False(t, guard.Snapshot().Authenticated, "signing up does not sign in")

	form.Username = "taken"
	err := guard.Signup(ctx, form)
	require.Error(t, err)
	assert.True(t, backend.IsKind(err, backend.KindValidation))
	assert.Equal(t, "username: A user with that username already exists.", backend.UserMessage(err))

	form.ConfirmPassword = "other"
	err = guard.Signup(ctx, form)
	assert.ErrorIs(t, err, ErrPasswordMismatch)
	assert.Equal(t, "Passwords do not match.", backend.UserMessage(err))
	assert.Equal(t, int32(1), created.Load())
}

func TestMutate_SingleRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("RecoversAfterOneRefresh", func(t *testing.T) {
		fake := &fakeAuthServer{}
		var attempts atomic.Int32
		r := fake.router()
		r.Post("/api/feed/items/1/like/", func(w http.ResponseWriter, req *http.Request) {
			attempts.Add(1)
			if !fake.validToken(w, req) {
				return
			}
			w.WriteHeader(http.StatusCreated)
		})
		guard := newTestGuard(t, r)
		require.NoError(t, guard.Init(ctx))

		// Server-side session rotated: the held token is now stale.
		fake.mu.Lock()
		fake.current = "stale-server-token"
		fake.mu.Unlock()

		// The refresh issues t2 which the fake then accepts.
		resp, err := guard.Mutate(ctx, backend.Request{Method: http.MethodPost, Path: "/api/feed/items/1/like/"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.Status)
		assert.Equal(t, int32(2), attempts.Load())
		assert.Equal(t, int32(2), fake.tokenCalls.Load())
		assert.Equal(t, "t2", guard.Snapshot().SecurityToken)
	})

	t.Run("SecondRejectionIsTerminal", func(t *testing.T) {
		fake := &fakeAuthServer{}
		var attempts atomic.Int32
		r := fake.router()
		r.Post("/api/feed/items/1/like/", func(w http.ResponseWriter, req *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprintln(w, `{"detail": "CSRF Failed: CSRF cookie not set."}`)
		})
		guard := newTestGuard(t, r)
		require.NoError(t, guard.Init(ctx))

		_, err := guard.Mutate(ctx, backend.Request{Method: http.MethodPost, Path: "/api/feed/items/1/like/"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAuthRejected)
		assert.True(t, backend.IsKind(err, backend.KindAuth))
		assert.Equal(t, int32(2), attempts.Load(), "no third attempt")
	})

	t.Run("OtherErrorsAreNotRetried", func(t *testing.T) {
		fake := &fakeAuthServer{}
		var attempts atomic.Int32
		r := fake.router()
		r.Post("/api/feed/items/1/comments/", func(w http.ResponseWriter, req *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, `{"text": ["This field may not be blank."]}`)
		})
		guard := newTestGuard(t, r)
		require.NoError(t, guard.Init(ctx))

		_, err := guard.Mutate(ctx, backend.Request{Method: http.MethodPost, Path: "/api/feed/items/1/comments/"})
		require.Error(t, err)
		assert.True(t, backend.IsKind(err, backend.KindValidation))
		assert.Equal(t, "text: This field may not be blank.", backend.UserMessage(err))
		assert.Equal(t, int32(1), attempts.Load())
	})
}
