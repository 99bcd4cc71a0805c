package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	before := testutil.ToFloat64(mutationTotal.WithLabelValues("like", "rolled_back"))
	ObserveMutation("like", "rolled_back", 120*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(mutationTotal.WithLabelValues("like", "rolled_back")))

	okBefore := testutil.ToFloat64(pageLoadTotal.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(pageLoadTotal.WithLabelValues("error"))
	ObservePageLoad(nil)
	ObservePageLoad(errors.New("boom"))
	assert.Equal(t, okBefore+1, testutil.ToFloat64(pageLoadTotal.WithLabelValues("ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(pageLoadTotal.WithLabelValues("error")))
}

func TestHandler(t *testing.T) {
	ObserveTokenFetch(nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "recipe_client_token_fetches_total"))
}
