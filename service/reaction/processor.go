package reaction

import (
	"context"
	"time"

	"NProject/logger"
	errs "NProject/tools/errs"
)

// Repository persists aggregated reaction state. Implementations must be
// idempotent per event: the pipeline deduplicates, but a crash between the
// repository write and the dedup mark can still replay an event.
type Repository interface {
	ApplyReaction(ctx context.Context, ev *ReactionEvent) error
}

// Cache invalidates or refreshes per-entity aggregates after a batch.
type Cache interface {
	InvalidateEntity(ctx context.Context, entityID string) error
}

// Processor applies one consumer batch: repository update per event, cache
// invalidation per touched entity. Any failure leaves the whole batch
// unacknowledged so the log redelivers it.
type Processor struct {
	repo     Repository
	cache    Cache
	idem     IdemStore
	dedupTTL time.Duration
}

func NewProcessor(repo Repository, cache Cache, idem IdemStore, dedupTTL time.Duration) *Processor {
	if dedupTTL <= 0 {
		dedupTTL = time.Hour
	}
	return &Processor{repo: repo, cache: cache, idem: idem, dedupTTL: dedupTTL}
}

// ProcessBatch returns the number of events actually applied (deduplicated
// replays are counted as processed but not re-applied).
func (p *Processor) ProcessBatch(ctx context.Context, batch []*ReactionEvent) (int, error) {
	applied := 0
	touched := make(map[string]struct{})
	for _, ev := range batch {
		if p.idem != nil {
			seen, err := p.idem.Seen(ctx, ev.DedupKey())
			if err != nil {
				return applied, errs.Wrap(err, "idem check")
			}
			if seen {
				logger.Debugf("[Reaction] dedup skip key=%s", ev.DedupKey())
				continue
			}
		}
		if err := p.repo.ApplyReaction(ctx, ev); err != nil {
			return applied, errs.Wrapf(err, "apply entity=%s", ev.EntityID)
		}
		// Marked only after the apply landed. A crash between the two
		// re-applies the event on redelivery, which the storage layer
		// absorbs; marking first would lose failed events instead.
		if p.idem != nil {
			if err := p.idem.Mark(ctx, ev.DedupKey(), p.dedupTTL); err != nil {
				logger.Warnf("[Reaction] idem mark failed key=%s: %v", ev.DedupKey(), err)
			}
		}
		applied++
		touched[ev.EntityID] = struct{}{}
	}
	if p.cache != nil {
		for entityID := range touched {
			if err := p.cache.InvalidateEntity(ctx, entityID); err != nil {
				return applied, errs.Wrapf(err, "invalidate entity=%s", entityID)
			}
		}
	}
	return applied, nil
}
