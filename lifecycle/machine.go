package lifecycle

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUnexpectedResolution is returned when a resolution is supplied for a
// transition that does not enter resolved
var ErrUnexpectedResolution = errors.New("resolution supplied for a transition that does not resolve the return")

// EffectKind names a side effect the caller should trigger after persisting
// a transition
type EffectKind string

const (
	EffectGenerateLabel     EffectKind = "generate_shipping_label"
	EffectProcessResolution EffectKind = "process_resolution"
	EffectNotifyCustomer    EffectKind = "notify_customer"
)

// SideEffect describes work for the caller; the machine performs none
type SideEffect struct {
	Kind     EffectKind     `json:"kind"`
	ReturnID string         `json:"return_id"`
	Status   Status         `json:"status"`
	Type     ResolutionType `json:"resolution_type,omitempty"`
}

// TransitionRequest asks to move a return from Current to Target
type TransitionRequest struct {
	ReturnID string
	TenantID string
	Current  Status
	Target   Status

	// Actor is the merchant user ID, or empty for the system
	Actor string
	Notes string

	// Forced marks a merchant override. It must still be a legal edge and
	// is only recorded differently.
	Forced bool

	// Resolution is required when Target is resolved and rejected otherwise
	Resolution *ResolutionInput
}

// TransitionResult is everything the caller persists and triggers after a
// successful transition
type TransitionResult struct {
	Status     Status       `json:"status"`
	Audit      AuditEntry   `json:"audit"`
	Effects    []SideEffect `json:"effects,omitempty"`
	Resolution *Resolution  `json:"resolution,omitempty"`
}

// Machine validates return status transitions. It holds no state about any
// return; the caller supplies the authoritative current status and persists
// the result conditioned on that status being unchanged.
type Machine struct {
	now   func() time.Time
	newID func() string
}

// Option configures a Machine
type Option func(*Machine)

// WithClock sets the time source for audit and resolution timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithIDGenerator sets the ID source for audit entries and resolutions
func WithIDGenerator(newID func() string) Option {
	return func(m *Machine) { m.newID = newID }
}

// NewMachine creates a state machine
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CanTransition reports whether current -> target is legal
func (m *Machine) CanTransition(current, target Status) bool {
	return CanTransition(current, target)
}

// Transition validates a transition and returns the new status, its audit
// entry, side effects and, when resolving, the resolution draft. On error
// nothing should be persisted.
func (m *Machine) Transition(req TransitionRequest) (*TransitionResult, error) {
	if !CanTransition(req.Current, req.Target) {
		return nil, &InvalidTransitionError{From: req.Current, To: req.Target}
	}

	if req.Target == StatusResolved {
		if err := req.Resolution.validate(); err != nil {
			return nil, err
		}
	} else if req.Resolution != nil {
		return nil, ErrUnexpectedResolution
	}

	actor := req.Actor
	if actor == "" {
		actor = SystemActor
	}
	event := EventStatusChanged
	if req.Forced {
		event = EventStatusOverride
	}

	at := m.now()
	result := &TransitionResult{
		Status: req.Target,
		Audit: AuditEntry{
			ID:         m.newID(),
			ReturnID:   req.ReturnID,
			TenantID:   req.TenantID,
			FromStatus: req.Current,
			ToStatus:   req.Target,
			EventType:  event,
			UserID:     actor,
			Notes:      req.Notes,
			Timestamp:  at,
		},
	}

	switch req.Target {
	case StatusApproved, StatusDenied:
		result.Effects = append(result.Effects, SideEffect{Kind: EffectNotifyCustomer, ReturnID: req.ReturnID, Status: req.Target})
	case StatusLabelIssued:
		result.Effects = append(result.Effects, SideEffect{Kind: EffectGenerateLabel, ReturnID: req.ReturnID, Status: req.Target})
	case StatusResolved:
		result.Resolution = draftResolution(m.newID(), req.ReturnID, req.TenantID, req.Resolution, at)
		result.Effects = append(result.Effects, SideEffect{
			Kind:     EffectProcessResolution,
			ReturnID: req.ReturnID,
			Status:   req.Target,
			Type:     req.Resolution.Type,
		})
	}

	return result, nil
}
