package saga

import (
	"time"

	"github.com/google/uuid"
)

// State defines the saga lifecycle states
type State string

const (
	StateStarted      State = "STARTED"
	StateInProgress   State = "IN_PROGRESS"
	StateCompleted    State = "COMPLETED"
	StateFailed       State = "FAILED"
	StateTimeout      State = "TIMEOUT"
	StateCompensating State = "COMPENSATING"
	StateCompensated  State = "COMPENSATED"
)

// validTransitions is the complete transition table. COMPLETED and COMPENSATED
// are terminal; FAILED is terminal unless compensation is started. Terminal
// states are never reopened; a retried transaction gets a new saga id.
var validTransitions = map[State][]State{
	StateStarted:      {StateInProgress},
	StateInProgress:   {StateCompleted, StateFailed, StateTimeout},
	StateFailed:       {StateCompensating},
	StateTimeout:      {StateCompensating},
	StateCompensating: {StateCompensated},
}

// CanTransition reports whether moving from one state to another is allowed
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state accepts no further transitions. FAILED is
// not terminal here because it may still move to COMPENSATING; sagas left in
// FAILED without compensation simply stay there.
func IsTerminal(s State) bool {
	return len(validTransitions[s]) == 0
}

// InvalidTransitionError is returned when a mutator is called against the
// transition table; rejected transitions are a programming error, not a
// retryable condition.
type InvalidTransitionError struct {
	SagaID uuid.UUID
	From   State
	To     State
}

func (e InvalidTransitionError) Error() string {
	return "invalid saga transition " + string(e.From) + " -> " + string(e.To) + " for saga: " + e.SagaID.String()
}

// Instance is one service-local saga record per cross-service transaction
// attempt, correlated to the trade and order it settles.
type Instance struct {
	SagaID      uuid.UUID         `json:"saga_id"`
	TradeID     uuid.UUID         `json:"trade_id"`
	OrderID     uuid.UUID         `json:"order_id"`
	UserID      uuid.UUID         `json:"user_id"`
	Symbol      string            `json:"symbol,omitempty"`
	State       State             `json:"state"`
	StartedAt   time.Time         `json:"started_at"`
	TimeoutAt   time.Time         `json:"timeout_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Version     int               `json:"version"` // For optimistic locking
}

// NewInstance starts a saga for one settlement attempt with the given deadline
func NewInstance(tradeID, orderID, userID uuid.UUID, timeout time.Duration) *Instance {
	now := time.Now()
	return &Instance{
		SagaID:    uuid.New(),
		TradeID:   tradeID,
		OrderID:   orderID,
		UserID:    userID,
		State:     StateStarted,
		StartedAt: now,
		TimeoutAt: now.Add(timeout),
		Version:   1,
	}
}

// MarkInProgress records that the first remote step was dispatched
func (s *Instance) MarkInProgress() error {
	return s.transition(StateInProgress)
}

// MarkCompleted closes the saga on the success path
func (s *Instance) MarkCompleted() error {
	return s.transition(StateCompleted)
}

// MarkFailed records an explicit remote failure
func (s *Instance) MarkFailed() error {
	return s.transition(StateFailed)
}

// MarkTimeout records that the saga overran its deadline
func (s *Instance) MarkTimeout() error {
	return s.transition(StateTimeout)
}

// MarkCompensating records that reversal of local effects has begun
func (s *Instance) MarkCompensating() error {
	return s.transition(StateCompensating)
}

// MarkCompensated closes the saga after its effects were reversed
func (s *Instance) MarkCompensated() error {
	return s.transition(StateCompensated)
}

// IsExpired reports whether the saga is past its deadline and still live
func (s *Instance) IsExpired(now time.Time) bool {
	return !IsTerminal(s.State) && s.State != StateFailed && now.After(s.TimeoutAt)
}

// transition applies a state change and bumps Version for optimistic
// concurrency. CompletedAt is stamped whenever the settlement attempt stops
// making forward progress: terminal states, FAILED and TIMEOUT. Compensation
// re-stamps it when it finishes. A transition losing the version race at the
// store is retried by the caller, not silently dropped.
func (s *Instance) transition(to State) error {
	if !CanTransition(s.State, to) {
		return InvalidTransitionError{SagaID: s.SagaID, From: s.State, To: to}
	}
	s.State = to
	if IsTerminal(to) || to == StateFailed || to == StateTimeout {
		now := time.Now()
		s.CompletedAt = &now
	}
	s.Version++
	return nil
}
