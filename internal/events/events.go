// Package events fans engine outcomes out to downstream consumers. Events
// are emitted after the engine commits; delivery is best-effort and never
// affects engine state.
package events

import (
	"time"

	"github.com/laminar-protocol/flow-protocol-ethereum-sub001/internal/model"
)

// Event types.
const (
	TypePriceUpdated    = "price_updated"
	TypePositionOpened  = "position_opened"
	TypePositionClosed  = "position_closed"
	TypeClassBankrupt   = "class_bankrupt"
	TypeClassRemediated = "class_remediated"
)

// Event is one engine outcome. Key scopes the event: a class ID for
// position and class events, a pair such as USD-EUR for prices.
type Event struct {
	Type      string    `json:"type"`
	Key       string    `json:"key"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink accepts events. Implementations must not block.
type Sink interface {
	Emit(evt Event)
}

// Multi emits to every non-nil sink in order.
type Multi []Sink

func (m Multi) Emit(evt Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(evt)
		}
	}
}

// BankruptcyReporter turns halted classes into class_bankrupt events.
type BankruptcyReporter struct {
	Sink Sink
}

// ClassBankrupt emits the halted class's snapshot.
func (r BankruptcyReporter) ClassBankrupt(state model.ClassState, cause error) {
	r.Sink.Emit(Event{
		Type: TypeClassBankrupt,
		Key:  state.ClassID,
		Payload: map[string]any{
			"state": state,
			"cause": cause.Error(),
		},
		Timestamp: time.Now().UTC(),
	})
}
