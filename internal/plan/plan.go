// Package plan turns the recommender's untyped action-plan document into a
// typed, validated Plan and extracts the executable actions from it.
//
// Validation and extraction are separate steps: Validate does all of the
// dynamic-shape checking and either returns a *Plan or a *ValidationError;
// Sanitize then walks a validated Plan and cannot fail.
package plan

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/store"
)

// DefaultReason is used when an entry carries no reason of its own.
const DefaultReason = "LLM recommendation"

// Entry types accepted in a plan document.
const (
	TypeScale    = "scale"
	TypeRedeploy = "redeploy"
	TypeNoAction = "no_action"
)

// Plan is a validated action plan. Entries preserve document order.
type Plan struct {
	Reasoning string
	Entries   []Entry
}

// Entry is one validated plan element: Scale, Redeploy or NoAction.
type Entry interface {
	entryType() string
}

// Scale asks for a deployment's replica target to change. NewCount has
// only been checked to be an integer; range checks belong to the guardrails.
type Scale struct {
	DeploymentID string
	NewCount     int
	Reason       string
}

// Redeploy asks for a deployment restart.
type Redeploy struct {
	DeploymentID string
	Reason       string
}

// NoAction is an explicit "do nothing" entry.
type NoAction struct{}

func (Scale) entryType() string    { return TypeScale }
func (Redeploy) entryType() string { return TypeRedeploy }
func (NoAction) entryType() string { return TypeNoAction }

// ValidationError describes why a plan document was rejected.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Details is the payload recorded in the ledger for an executable action.
type Details struct {
	NewCount *int   `json:"new_count,omitempty"`
	Reason   string `json:"reason"`
}

// Action is one executable step extracted from a validated plan.
type Action struct {
	Type         store.ActionType
	DeploymentID string
	Details      Details
}

// Parse decodes raw JSON and validates it.
func Parse(data []byte) (*Plan, map[string]any, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, invalid("Action plan is not valid JSON: %v", err)
	}
	p, err := Validate(doc)
	m, _ := doc.(map[string]any)
	return p, m, err
}

// Validate checks the shape of a decoded plan document. Any structural
// problem rejects the whole plan; there is no partial acceptance.
func Validate(doc any) (*Plan, error) {
	top, ok := doc.(map[string]any)
	if !ok {
		return nil, invalid("Action plan must be a dictionary")
	}

	rawActions, ok := top["actions"]
	if !ok {
		return nil, invalid("Action plan must contain 'actions' key")
	}
	actions, ok := rawActions.([]any)
	if !ok {
		return nil, invalid("'actions' must be a list")
	}

	p := &Plan{Entries: make([]Entry, 0, len(actions))}
	if r, ok := top["reasoning"].(string); ok {
		p.Reasoning = r
	}

	for i, raw := range actions {
		entry, err := validateEntry(i, raw)
		if err != nil {
			return nil, err
		}
		p.Entries = append(p.Entries, entry)
	}

	return p, nil
}

func validateEntry(i int, raw any) (Entry, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, invalid("Action %d must be a dictionary", i)
	}

	rawType, ok := m["type"]
	if !ok {
		return nil, invalid("Action %d missing 'type' field", i)
	}
	typ, _ := rawType.(string)

	switch typ {
	case TypeNoAction:
		return NoAction{}, nil

	case TypeScale:
		id, err := deploymentID(m, "Scale", i)
		if err != nil {
			return nil, err
		}
		rawCount, ok := m["new_count"]
		if !ok {
			return nil, invalid("Scale action %d missing 'new_count'", i)
		}
		count, ok := asInt(rawCount)
		if !ok {
			return nil, invalid("Scale action %d 'new_count' must be an integer, got %v", i, rawCount)
		}
		return Scale{DeploymentID: id, NewCount: count, Reason: reasonOf(m)}, nil

	case TypeRedeploy:
		id, err := deploymentID(m, "Redeploy", i)
		if err != nil {
			return nil, err
		}
		return Redeploy{DeploymentID: id, Reason: reasonOf(m)}, nil
	}

	return nil, invalid("Invalid action type: '%v'. Must be one of [%s %s %s]", rawType, TypeScale, TypeRedeploy, TypeNoAction)
}

// deploymentID accepts a non-empty string or an integral number, since
// upstream ids (dseq) are numeric and models sometimes emit them bare.
func deploymentID(m map[string]any, kind string, i int) (string, error) {
	raw, ok := m["deployment_id"]
	if !ok || raw == nil {
		return "", invalid("%s action %d missing 'deployment_id'", kind, i)
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return "", invalid("%s action %d has empty 'deployment_id'", kind, i)
		}
		return v, nil
	default:
		if n, ok := asInt(v); ok {
			return strconv.Itoa(n), nil
		}
	}
	return "", invalid("%s action %d 'deployment_id' must be a string, got %v", kind, i, raw)
}

// reasonOf returns the action's reason. A missing, empty or non-string
// reason falls back to DefaultReason rather than rejecting the plan.
func reasonOf(m map[string]any) string {
	if s, ok := m["reason"].(string); ok && s != "" {
		return s
	}
	return DefaultReason
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil || i > math.MaxInt32 || i < math.MinInt32 {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

// Sanitize drops NoAction entries and converts the rest, in order, into
// executable actions.
func Sanitize(p *Plan) []Action {
	if p == nil {
		return nil
	}

	actions := make([]Action, 0, len(p.Entries))
	for _, e := range p.Entries {
		switch v := e.(type) {
		case Scale:
			n := v.NewCount
			actions = append(actions, Action{
				Type:         store.ActionScale,
				DeploymentID: v.DeploymentID,
				Details:      Details{NewCount: &n, Reason: v.Reason},
			})
		case Redeploy:
			actions = append(actions, Action{
				Type:         store.ActionRedeploy,
				DeploymentID: v.DeploymentID,
				Details:      Details{Reason: v.Reason},
			})
		}
	}
	return actions
}
