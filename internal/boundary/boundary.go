// Package boundary implements the hysteresis state machine that turns
// smoothed horizontal positions into Entry and Exit events around a
// vertical line in frame coordinates.
package boundary

import "time"

// State is the crossing state of a tracked identity relative to the line.
type State string

const (
	// Outside means the identity is on the exit side of the line.
	Outside State = "outside"
	// Approaching means the identity is inside the hysteresis band
	// on the exit side, armed for an entry.
	Approaching State = "approaching"
	// Inside means the identity is on the entry side of the line.
	Inside State = "inside"
)

// EventType distinguishes entries from exits.
type EventType string

const (
	Entry EventType = "entry"
	Exit  EventType = "exit"
)

// Event is a single confirmed crossing.
type Event struct {
	Type      EventType `json:"type"`
	Identity  string    `json:"identity"`
	Position  float64   `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

// Machine tracks one identity's position against the line. Entry fires
// the moment the position reaches the line from the exit side. Exit
// fires only once the position has cleared the hysteresis band on the
// exit side, so jitter around the line after a crossing cannot emit
// repeated event pairs.
type Machine struct {
	line           float64
	halfWidth      float64
	entryRightward bool
	state          State
}

// NewMachine places the machine according to the first observed side of
// the line. No synthetic event is emitted for the initial placement.
func NewMachine(line, halfWidth float64, entryRightward bool, initialPos float64) *Machine {
	m := &Machine{line: line, halfWidth: halfWidth, entryRightward: entryRightward}
	if m.delta(initialPos) >= 0 {
		m.state = Inside
	} else {
		m.state = Outside
	}
	return m
}

// State returns the current crossing state.
func (m *Machine) State() State { return m.state }

// delta normalises the position so that positive values are on the
// entry side regardless of orientation.
func (m *Machine) delta(pos float64) float64 {
	if m.entryRightward {
		return pos - m.line
	}
	return m.line - pos
}

// Step advances the machine with a new smoothed position. It returns a
// non-nil Event when a crossing completes, nil otherwise.
func (m *Machine) Step(identity string, pos float64, now time.Time) *Event {
	d := m.delta(pos)
	switch m.state {
	case Outside:
		if d >= 0 {
			m.state = Inside
			return &Event{Type: Entry, Identity: identity, Position: pos, Timestamp: now}
		}
		if d >= -m.halfWidth {
			m.state = Approaching
		}
	case Approaching:
		if d >= 0 {
			m.state = Inside
			return &Event{Type: Entry, Identity: identity, Position: pos, Timestamp: now}
		}
		if d < -m.halfWidth {
			m.state = Outside
		}
	case Inside:
		if d <= -m.halfWidth {
			m.state = Outside
			return &Event{Type: Exit, Identity: identity, Position: pos, Timestamp: now}
		}
	}
	return nil
}
