// Event ingestion handler.
//
// Platform adapters (Telegram, Discord, Slack, WhatsApp connectors) normalize
// inbound chat messages and POST them here one at a time. The handler is
// transport-thin: it validates the envelope, runs the processing pipeline, and
// returns whatever outbound messages the pipeline produced. Delivery back to
// the platform is the adapter's job; this service never calls a platform API.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/teamops/tzbot/internal/domain"
	"github.com/teamops/tzbot/internal/http/middleware"
	"github.com/teamops/tzbot/internal/pipeline"
)

// EventProcessor runs one normalized event through the detection and
// resolution pipeline.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type EventProcessor interface {
	Process(ctx context.Context, ev domain.NormalizedEvent) (pipeline.Result, error)
}

// VerifyService confirms a browser-reported timezone against a signed
// verification token and records the resulting belief.
type VerifyService interface {
	// Confirm validates token, stores tz as a verified belief for the token's
	// subject, and returns the canonical zone id that was stored.
	Confirm(ctx context.Context, token, tz string) (string, error)
	// Check validates token without side effects (used by the landing page).
	Check(token string) error
}

// Handlers groups the HTTP endpoints for event ingestion and timezone
// verification. It depends on abstract interfaces to keep transport concerns
// separate from pipeline logic.
type Handlers struct {
	proc     EventProcessor
	verifier VerifyService
}

// New constructs a Handlers instance bound to the given services.
func New(proc EventProcessor, verifier VerifyService) *Handlers {
	return &Handlers{proc: proc, verifier: verifier}
}

// EventResponse is the JSON body returned for every accepted event.
//
// Outcome is one of "skipped", "replied", "prompted". Reason is set only for
// skipped events. Messages carries the replies the adapter must deliver; it
// is empty for skipped events.
type EventResponse struct {
	Outcome  string                   `json:"outcome" example:"replied"`
	Reason   string                   `json:"reason,omitempty" example:"duplicate"`
	Messages []domain.OutboundMessage `json:"messages,omitempty"`
}

// outcomeLabel maps a pipeline result kind to its wire string.
func outcomeLabel(k pipeline.ResultKind) string {
	switch k {
	case pipeline.Replied:
		return "replied"
	case pipeline.Prompted:
		return "prompted"
	default:
		return "skipped"
	}
}

// PostEvent handles POST /api/v1/events.
//
// It accepts a NormalizedEvent, runs the pipeline, and returns the outcome
// with any outbound messages. A malformed envelope is a 400; pipeline
// infrastructure failures are a 500. Duplicate deliveries are not errors:
// they come back 200 with outcome "skipped", reason "duplicate", so a
// retrying adapter can treat any 2xx as done.
func (h *Handlers) PostEvent(c *gin.Context) {
	var ev domain.NormalizedEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid event payload")
		return
	}
	if !ev.Platform.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown platform")
		return
	}

	res, err := h.proc.Process(c.Request.Context(), ev)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidEvent) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid event payload")
			return
		}
		lg := middleware.LoggerFrom(c)
		lg.Error().Err(err).
			Str("platform", string(ev.Platform)).
			Str("event_id", ev.EventID).
			Msg("pipeline failure")
		fail(c, http.StatusInternalServerError, ErrCodeProcessFailed, "event processing failed")
		return
	}

	outcome := outcomeLabel(res.Kind)
	if res.Kind == pipeline.Skipped && res.Reason != "" {
		middleware.CountEventOutcome(string(ev.Platform), res.Reason)
	} else {
		middleware.CountEventOutcome(string(ev.Platform), outcome)
	}

	ok(c, http.StatusOK, EventResponse{
		Outcome:  outcome,
		Reason:   res.Reason,
		Messages: res.Messages,
	})
}
