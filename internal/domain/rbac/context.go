package rbac

import "github.com/relaygate/relaygate/internal/domain/identity"

// EvaluationContext is the input to a Rule's compiled identity_matcher
// CEL program. Field names here are the CEL activation's top-level
// variables (identity, resource, action).
type EvaluationContext struct {
	Identity identity.Identity
	// ResourceType is the kind of thing being accessed.
	ResourceType ResourceType
	// Target is the target name half of "target:inner".
	Target string
	// Inner is the resource's own name within its target.
	Inner string
	// Action is the relay operation being performed, e.g. "call_tool",
	// "list_tools", "read_resource", "get_prompt".
	Action string
	// Arguments holds a tool call's arguments, nil for non-call actions.
	Arguments map[string]any
}

// asActivationMap flattens an EvaluationContext into the map cel.Program
// expects for ContextEval, matching the variable declarations registered
// in newCELEnv.
func (c EvaluationContext) asActivationMap() map[string]any {
	claims := map[string]any{}
	for k, v := range c.Identity.Claims {
		claims[k] = v
	}
	roles := make([]any, 0, len(c.Identity.Roles))
	for _, r := range c.Identity.Roles {
		roles = append(roles, r)
	}
	args := c.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return map[string]any{
		"identity": map[string]any{
			"id":     c.Identity.ID,
			"roles":  roles,
			"claims": claims,
		},
		"resource": map[string]any{
			"type":   string(c.ResourceType),
			"target": c.Target,
			"inner":  c.Inner,
		},
		"action":    c.Action,
		"arguments": args,
	}
}
