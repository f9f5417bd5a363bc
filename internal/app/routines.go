package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/panelhub/internal/kv"
	"github.com/dokzlo13/panelhub/internal/routine"
)

// PurgeRoutine names the routine dropping expired cache entries.
const PurgeRoutine = "cache_purge"

// purgeAction purges every bucket. One failing bucket does not stop the
// others.
func purgeAction(buckets ...kv.Bucket) routine.Action {
	return func(ctx context.Context) error {
		var errs []error
		for _, b := range buckets {
			n, err := b.Purge(ctx)
			if err != nil {
				errs = append(errs, fmt.Errorf("purge %s: %w", b.Name(), err))
				continue
			}
			if n > 0 {
				log.Info().Str("bucket", b.Name()).Int("deleted", n).Msg("Purged expired cache entries")
			}
		}
		return errors.Join(errs...)
	}
}
