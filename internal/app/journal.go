package app

import (
	"context"
	"errors"
	"time"

	"recipe-client/internal/backend"
	"recipe-client/internal/metrics"
	"recipe-client/internal/mutation"

	"github.com/rs/zerolog/log"
)

const journalTimeout = 2 * time.Second

// journal records settled mutations in the metrics store.
type journal struct {
	store *metrics.Store
}

// observe satisfies mutation.Observer. Journal failures are logged and
// never surface to the user action that triggered them.
func (j *journal) observe(kind, target string, state mutation.State, latency time.Duration, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	m := metrics.MutationMetric{
		Kind:      kind,
		Target:    target,
		Result:    state.String(),
		ErrorKind: errorKind(err),
		LatencyMS: latency.Milliseconds(),
	}
	if recErr := j.store.Record(ctx, m); recErr != nil {
		log.Warn().Err(recErr).Str("kind", kind).Str("target", target).Msg("failed to journal mutation")
	}
}

func errorKind(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind.String()
	}
	return "other"
}
