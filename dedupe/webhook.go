package dedupe

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kelpline/breakwater/keystore"
)

// RunWebhook executes exec at most once per upstream delivery id, so a
// re-sent delivery becomes a no-op acknowledgment instead of reprocessing.
//
// processed reports whether this call ran exec. A completed duplicate
// returns (false, nil): acknowledge and move on. A duplicate arriving while
// the first attempt is still running returns ErrInProgress; rejecting it
// keeps the upstream retrying until the outcome is known, since an early
// acknowledgment would drop the event if the first attempt then failed.
func (g *Guard) RunWebhook(ctx context.Context, deliveryID string, exec func(context.Context) error) (processed bool, err error) {
	dk := g.cfg.Prefix + "hook:" + deliveryID
	lk := g.cfg.Prefix + "hooklock:" + deliveryID

	done, err := g.delivered(ctx, dk)
	if err != nil {
		g.log.Warn("webhook guard unavailable, proceeding unguarded", "delivery", deliveryID, "error", err)
		g.mc.RecordInternalError("dedupe")
		return true, exec(ctx)
	}
	if done {
		g.mc.RecordDedupHit("webhook")
		return false, nil
	}

	holder := uuid.NewString()
	ok, err := g.store.SetNX(ctx, lk, []byte(holder), g.cfg.LockTTL)
	if err != nil {
		g.log.Warn("webhook guard unavailable, proceeding unguarded", "delivery", deliveryID, "error", err)
		g.mc.RecordInternalError("dedupe")
		return true, exec(ctx)
	}
	if !ok {
		return false, ErrInProgress
	}
	defer g.release(ctx, lk, holder)

	if done, err := g.delivered(ctx, dk); err == nil && done {
		g.mc.RecordDedupHit("webhook")
		return false, nil
	}

	if err := exec(ctx); err != nil {
		// No marker: the upstream's next re-send processes again.
		return true, err
	}
	marker := []byte(g.nowFunc().UTC().Format(time.RFC3339))
	if err := g.store.Set(ctx, dk, marker, g.cfg.Retention); err != nil {
		g.log.Warn("webhook marker write failed", "delivery", deliveryID, "error", err)
		g.mc.RecordInternalError("dedupe")
	}
	return true, nil
}

// delivered reports whether the delivery's done marker exists.
func (g *Guard) delivered(ctx context.Context, key string) (bool, error) {
	_, err := g.store.Get(ctx, key)
	if errors.Is(err, keystore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
