package purchase

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/novaland/parley/internal/bus"
)

// Phase represents where a purchase attempt is in its lifecycle.
type Phase string

const (
	Idle       Phase = "IDLE"
	Validating Phase = "VALIDATING"
	Submitted  Phase = "SUBMITTED"
	Confirming Phase = "CONFIRMING"
	Settling   Phase = "SETTLING"
	Done       Phase = "DONE"
	Failed     Phase = "FAILED"
	Unsettled  Phase = "UNSETTLED"
)

// validTransitions defines allowed phase transitions. A submission error
// fails from Validating with nothing in flight; once a transaction is
// accepted by the pool the attempt can only revert on-chain (Failed) or end
// Unsettled when the outcome is unknown.
var validTransitions = map[Phase][]Phase{
	Idle:       {Validating},
	Validating: {Submitted, Failed},
	Submitted:  {Confirming},
	Confirming: {Settling, Failed, Unsettled},
	Settling:   {Done},
}

// tracker enforces phase transitions for a single purchase attempt and
// publishes each change on the bus.
type tracker struct {
	mu       sync.Mutex
	threadID string
	current  Phase
	bus      *bus.Bus
}

func newTracker(threadID string, b *bus.Bus) *tracker {
	return &tracker{
		threadID: threadID,
		current:  Idle,
		bus:      b,
	}
}

// Current returns the current phase.
func (t *tracker) Current() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Transition attempts to move to a new phase. Returns error if the
// transition is invalid.
func (t *tracker) Transition(to Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := validTransitions[t.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid purchase transition from %s to %s", t.current, to)
	}
	from := t.current
	t.current = to
	if t.bus != nil {
		t.bus.Publish(bus.Event{
			Kind:      KindPhaseChanged,
			Timestamp: time.Now(),
			Payload: PhaseChange{
				ThreadID: t.threadID,
				From:     from,
				To:       to,
			},
		})
	}
	return nil
}

// KindPhaseChanged is published on every purchase phase transition.
const KindPhaseChanged = "purchase.phase_changed"

// PhaseChange is the payload for purchase phase events.
type PhaseChange struct {
	ThreadID string
	From     Phase
	To       Phase
}
