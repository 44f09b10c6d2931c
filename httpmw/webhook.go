package httpmw

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kelpline/breakwater/dedupe"
)

// HeaderDeliveryID is the default header the webhook guard reads the
// upstream delivery id from.
const HeaderDeliveryID = "X-Delivery-ID"

// ackBody is the no-op acknowledgment for duplicate deliveries.
var ackBody = []byte(`{"received":true,"duplicate":true}` + "\n")

// Webhook returns middleware that makes webhook re-sends a no-op. The
// delivery id is read from header (HeaderDeliveryID when empty); deliveries
// already processed are acknowledged without invoking the handler. A
// handler response below 300 marks the delivery processed; anything else
// leaves it unmarked so the sender's retry is processed again.
//
// Deliveries without an id pass through untouched. This wraps individual
// webhook endpoints rather than joining the gateway chain.
func Webhook(g *dedupe.Guard, header string) func(http.Handler) http.Handler {
	if header == "" {
		header = HeaderDeliveryID
	}
	return func(next http.Handler) http.Handler {
		if g == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(header)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			var env *dedupe.ResponseEnvelope
			_, err := g.RunWebhook(r.Context(), id, func(ctx context.Context) error {
				rec := dedupe.NewRecorder()
				next.ServeHTTP(rec, r.WithContext(ctx))
				env = rec.Envelope()
				if env.Status >= 300 {
					return fmt.Errorf("webhook handler returned status %d", env.Status)
				}
				return nil
			})
			switch {
			case errors.Is(err, dedupe.ErrInProgress):
				writeError(w, r, http.StatusConflict, CodeInProgress,
					"this delivery is already processing", g.RetryHint())
			case env != nil:
				// The handler ran: relay its response, success or failure,
				// so the sender sees the true outcome and retries after
				// errors.
				_ = env.Replay(w)
			default:
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write(ackBody)
			}
		})
	}
}
