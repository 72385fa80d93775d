package lifecycle

// Status is the lifecycle state of a return request
type Status string

const (
	StatusRequested   Status = "requested"
	StatusApproved    Status = "approved"
	StatusDenied      Status = "denied"
	StatusLabelIssued Status = "label_issued"
	StatusInTransit   Status = "in_transit"
	StatusReceived    Status = "received"
	StatusResolved    Status = "resolved"
)

// InitialStatus is the status every return starts in
const InitialStatus = StatusRequested

// transitions is the full set of legal edges. A status with no entry, or an
// empty one, is terminal.
var transitions = map[Status][]Status{
	StatusRequested:   {StatusApproved, StatusDenied},
	StatusApproved:    {StatusLabelIssued},
	StatusLabelIssued: {StatusInTransit},
	StatusInTransit:   {StatusReceived},
	StatusReceived:    {StatusResolved},
	StatusDenied:      {},
	StatusResolved:    {},
}

// Statuses lists every status in lifecycle order
func Statuses() []Status {
	return []Status{
		StatusRequested, StatusApproved, StatusDenied, StatusLabelIssued,
		StatusInTransit, StatusReceived, StatusResolved,
	}
}

// ParseStatus converts a stored or user-supplied value to a Status
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, st.Valid()
}

// Valid reports whether s is one of the seven lifecycle statuses
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether current -> target is an edge of the table
func CanTransition(current, target Status) bool {
	for _, next := range transitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// Next returns the statuses reachable from current in one step
func Next(current Status) []Status {
	out := make([]Status, len(transitions[current]))
	copy(out, transitions[current])
	return out
}
