package billing

import (
	"time"

	"github.com/fgb-andu/hustl-entitlements/pkg/entitlement"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component and outcome labels used in observability events.
const (
	componentManager  = "manager"
	componentIdentity = "identity_binder"
	componentCatalog  = "offering_cache"
	componentResolver = "entitlement_resolver"
	componentPurchase = "purchase_orchestrator"
	componentRestore  = "restore_reconciler"

	outcomeOK       = "ok"
	outcomeError    = "error"
	outcomeRejected = "rejected"
)

// Event is the structured record emitted on every state transition and
// terminal outcome. It identifies the component and what happened, never
// the user: only the presence of a bound identity is recorded, and
// payloads carry no price or payment-instrument data.
type Event struct {
	ID              string           `json:"id"`
	Component       string           `json:"component"`
	Action          string           `json:"action"`
	Outcome         string           `json:"outcome"`
	IdentityPresent bool             `json:"identity_present"`
	ErrorKind       entitlement.Kind `json:"error_kind,omitempty"`
	At              time.Time        `json:"at"`
}

// emitter fans each event out to the log, the metrics counters and the
// optional caller-registered sink.
type emitter struct {
	sink            func(Event)
	identityPresent func() bool
}

func newEmitter(sink func(Event), identityPresent func() bool) *emitter {
	return &emitter{sink: sink, identityPresent: identityPresent}
}

func (e *emitter) emit(component, action, outcome string, kind entitlement.Kind) {
	ev := Event{
		ID:              ulid.Make().String(),
		Component:       component,
		Action:          action,
		Outcome:         outcome,
		IdentityPresent: e.identityPresent(),
		ErrorKind:       kind,
		At:              time.Now().UTC(),
	}

	getMetrics().recordEvent(component, action, outcome)
	if kind != "" {
		getMetrics().recordFailure(string(kind))
	}

	level := zerolog.DebugLevel
	if outcome != outcomeOK {
		level = zerolog.WarnLevel
	}
	evt := log.WithLevel(level).
		Str("component", component).
		Str("action", action).
		Str("outcome", outcome).
		Bool("identity_present", ev.IdentityPresent).
		Str("event_id", ev.ID)
	if kind != "" {
		evt = evt.Str("error_kind", string(kind))
	}
	evt.Msg("Billing event")

	if e.sink != nil {
		e.sink(ev)
	}
}
