package ingestion_engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/contexta-kb/internal/core"
)

// withStorageRetry runs fn with exponential backoff, StorageAttempts times at
// most. Validation and not-found errors are returned at once.
func (i *DocumentIngestor) withStorageRetry(ctx context.Context, op, key string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = i.cfg.InitialBackoff
	b.MaxInterval = i.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(i.cfg.StorageAttempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && (core.IsValidation(err) || core.IsNotFound(err)) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		log.Warn().Err(err).
			Str("op", op).
			Str("key", key).
			Dur("retry_in", wait).
			Msg("storage call failed, retrying")
	})
}
