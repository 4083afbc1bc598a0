package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/statekeep/statekeep/pkg/store"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not block the action.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the action.
	SeverityError Severity = "error"

	// SeverityCritical blocks the action.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether violations of this severity reject an action.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Its package must define a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was read from, if any.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was read.
	LoadedAt time.Time `json:"loaded_at"`
}

// Violation is one entry of a policy's deny set.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Action is the rejected action type.
	Action string `json:"action"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Decision is the outcome of evaluating an action.
type Decision struct {
	// Allowed is false when any violation blocks.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that do not block.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Denial is the error wrapped by a policy StoreError.
type Denial struct {
	Violations []Violation
}

func (d *Denial) Error() string {
	msgs := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return strings.Join(msgs, "; ")
}

// Input is the document policies see as input.
type Input struct {
	Action ActionInput    `json:"action"`
	State  map[string]any `json:"state"`
}

// ActionInput is the policy view of a store.Action.
type ActionInput struct {
	Type    string         `json:"type"`
	Payload any            `json:"payload"`
	Meta    map[string]any `json:"meta"`
}

// NewInput builds the policy input for action against state.
func NewInput(action store.Action, state store.State) Input {
	meta := map[string]any{
		"id":     action.Meta.ID,
		"seq":    action.Meta.Seq,
		"origin": action.Meta.Origin,
		"remote": action.Meta.Remote,
	}
	if !action.Meta.Time.IsZero() {
		meta["time"] = action.Meta.Time.Format(time.RFC3339Nano)
	}
	return Input{
		Action: ActionInput{
			Type:    action.Type,
			Payload: action.Payload,
			Meta:    meta,
		},
		State: map[string]any(state),
	}
}
