package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ActionType names a rule action
type ActionType string

const (
	ActionAutoApprove  ActionType = "auto_approve_return"
	ActionDeny         ActionType = "deny_return"
	ActionManualReview ActionType = "require_manual_review"
	ActionAddNote      ActionType = "add_note"
	ActionWebhook      ActionType = "send_webhook"
)

// ErrInvalidAction is returned when an action spec cannot be turned into an Action
var ErrInvalidAction = errors.New("invalid action")

// Action is one of the typed rule actions below
type Action interface {
	Type() ActionType
	params() map[string]any
}

// AutoApprove approves the return without merchant intervention
type AutoApprove struct {
	Note string
}

// Deny denies the return without merchant intervention
type Deny struct {
	Reason string
}

// ManualReview flags the return for a merchant decision
type ManualReview struct {
	ReasonHint string
}

// AddNote attaches a note to the evaluation outcome
type AddNote struct {
	Note string
}

// Webhook asks the caller to notify an external endpoint
type Webhook struct {
	URL             string
	PayloadTemplate string
}

func (AutoApprove) Type() ActionType  { return ActionAutoApprove }
func (Deny) Type() ActionType         { return ActionDeny }
func (ManualReview) Type() ActionType { return ActionManualReview }
func (AddNote) Type() ActionType      { return ActionAddNote }
func (Webhook) Type() ActionType      { return ActionWebhook }

func (a AutoApprove) params() map[string]any  { return optional("note", a.Note) }
func (a Deny) params() map[string]any         { return map[string]any{"reason": a.Reason} }
func (a ManualReview) params() map[string]any { return optional("reason_hint", a.ReasonHint) }
func (a AddNote) params() map[string]any      { return map[string]any{"note": a.Note} }

func (a Webhook) params() map[string]any {
	p := map[string]any{"url": a.URL}
	if a.PayloadTemplate != "" {
		p["payload_template"] = a.PayloadTemplate
	}
	return p
}

func optional(key, value string) map[string]any {
	if value == "" {
		return map[string]any{}
	}
	return map[string]any{key: value}
}

// ActionSpec is the stored form of an action
type ActionSpec struct {
	ActionType ActionType     `json:"action_type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ParseAction checks an action spec's parameters and returns the typed action
func ParseAction(spec ActionSpec) (Action, error) {
	switch spec.ActionType {
	case ActionAutoApprove:
		note, err := stringParam(spec, "note", false)
		if err != nil {
			return nil, err
		}
		return AutoApprove{Note: note}, nil

	case ActionDeny:
		reason, err := stringParam(spec, "reason", true)
		if err != nil {
			return nil, err
		}
		return Deny{Reason: reason}, nil

	case ActionManualReview:
		hint, err := stringParam(spec, "reason_hint", false)
		if err != nil {
			return nil, err
		}
		return ManualReview{ReasonHint: hint}, nil

	case ActionAddNote:
		note, err := stringParam(spec, "note", true)
		if err != nil {
			return nil, err
		}
		return AddNote{Note: note}, nil

	case ActionWebhook:
		raw, err := stringParam(spec, "url", true)
		if err != nil {
			return nil, err
		}
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: %s url %q must be an absolute http(s) URL", ErrInvalidAction, spec.ActionType, raw)
		}
		tmpl, err := stringParam(spec, "payload_template", false)
		if err != nil {
			return nil, err
		}
		return Webhook{URL: raw, PayloadTemplate: tmpl}, nil

	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, spec.ActionType)
	}
}

func stringParam(spec ActionSpec, key string, required bool) (string, error) {
	v, ok := spec.Parameters[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("%w: %s requires parameter %q", ErrInvalidAction, spec.ActionType, key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s parameter %q must be a string", ErrInvalidAction, spec.ActionType, key)
	}
	s = strings.TrimSpace(s)
	if required && s == "" {
		return "", fmt.Errorf("%w: %s parameter %q cannot be empty", ErrInvalidAction, spec.ActionType, key)
	}
	return s, nil
}

// Actions is the ordered action list of a rule. It is stored as
// [{action_type, parameters}] and checked when decoded.
type Actions []Action

// Specs returns the stored form of the actions
func (as Actions) Specs() []ActionSpec {
	specs := make([]ActionSpec, 0, len(as))
	for _, a := range as {
		if a == nil {
			continue
		}
		specs = append(specs, ActionSpec{ActionType: a.Type(), Parameters: a.params()})
	}
	return specs
}

// Types returns the action types in order
func (as Actions) Types() []ActionType {
	types := make([]ActionType, 0, len(as))
	for _, a := range as {
		if a == nil {
			continue
		}
		types = append(types, a.Type())
	}
	return types
}

// MarshalJSON implements json.Marshaler
func (as Actions) MarshalJSON() ([]byte, error) {
	return json.Marshal(as.Specs())
}

// UnmarshalJSON implements json.Unmarshaler
func (as *Actions) UnmarshalJSON(data []byte) error {
	var specs []ActionSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return fmt.Errorf("decode actions: %w", err)
	}
	parsed, err := ParseActions(specs)
	if err != nil {
		return err
	}
	*as = parsed
	return nil
}

// ParseActions parses every spec, failing on the first invalid one
func ParseActions(specs []ActionSpec) (Actions, error) {
	out := make(Actions, 0, len(specs))
	for i, spec := range specs {
		a, err := ParseAction(spec)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}
