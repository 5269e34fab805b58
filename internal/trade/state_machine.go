package trade

import "sync"

type Event string

const (
	EventEntryPlaced      Event = "ENTRY_PLACED"
	EventEntryFilled      Event = "ENTRY_FILLED"
	EventEntryCancelled   Event = "ENTRY_CANCELLED"
	EventEntryRejected    Event = "ENTRY_REJECTED"
	EventExitsPlaced      Event = "EXITS_PLACED"
	EventExitsFailed      Event = "EXITS_FAILED"
	EventValidationFailed Event = "VALIDATION_FAILED"
	EventPositionClosed   Event = "POSITION_CLOSED"
)

type StateMachine struct {
	mu    sync.Mutex
	State Status
}

func NewStateMachine() *StateMachine {
	return &StateMachine{State: StatusPending}
}

func (s *StateMachine) Apply(event Event) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = nextStatus(s.State, event)
	return s.State
}

// nextStatus only ever moves forward; pairs it does not recognize keep
// the current status.
func nextStatus(current Status, event Event) Status {
	switch current {
	case StatusPending:
		if event == EventEntryPlaced {
			return StatusEntryPlaced
		}
		if event == EventValidationFailed {
			return StatusFailed
		}
		if event == EventEntryRejected {
			return StatusCancelled
		}
	case StatusEntryPlaced:
		if event == EventEntryFilled {
			return StatusEntryFilled
		}
		if event == EventEntryCancelled || event == EventEntryRejected {
			return StatusCancelled
		}
	case StatusEntryFilled:
		if event == EventExitsPlaced {
			return StatusActive
		}
		if event == EventExitsFailed {
			return StatusFailed
		}
	case StatusActive:
		if event == EventPositionClosed {
			return StatusCompleted
		}
	}
	return current
}
