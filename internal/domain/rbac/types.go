// Package rbac implements the gateway's authorization model: named Rules
// matched against a resource (a tool, resource, or prompt) and an
// Identity, evaluated in priority order with deny-by-default semantics.
package rbac

import "time"

// ResourceType names the kind of thing a Rule can govern, generalizing
// the proxy's original tool-only ToolMatch to the full set of MCP
// surfaces the Relay fans out over.
type ResourceType string

const (
	ResourceTool     ResourceType = "tool"
	ResourceResource ResourceType = "resource"
	ResourcePrompt   ResourceType = "prompt"
)

// Action is the outcome a matching Rule produces.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Rule is a single authorization rule. ResourceMatch is a glob evaluated
// against the resource's inner name (the part after "target:"); Condition
// is a CEL expression — the spec's identity_matcher — evaluated against an
// EvaluationContext built from the caller's Identity and the resource
// being accessed. A Rule matches when both ResourceMatch and Condition
// evaluate true; Priority (lower first) breaks ties across rules whose
// ResourceMatch overlaps.
type Rule struct {
	ID            string
	Name          string
	Priority      int
	ResourceType  ResourceType
	ResourceMatch string
	Condition     string
	Action        Action
	CreatedAt     time.Time
}

// RuleSet is an ordered, compiled collection of Rules. Construct via
// Compile; the zero value is not usable.
type RuleSet struct {
	rules    []Rule
	compiled []compiledRule
}

// Decision is the outcome of evaluating a RuleSet against a request.
type Decision struct {
	Allowed bool
	RuleID  string
	Reason  string
}

// Deny is the fixed decision returned when no rule matches (deny-by-default)
// or when a configuration error prevents evaluation.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}
