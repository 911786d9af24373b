package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"

	gerr "github.com/relaygate/relaygate/internal/gatewayerr"
)

// Safety limits on identity_matcher expressions, carried over from the
// proxy's existing CEL evaluator: bound compile-time expression size,
// runtime cost, and wall-clock evaluation time so a hostile or buggy rule
// cannot stall or OOM the relay's request path.
const (
	maxExpressionLength = 1024
	maxCostBudget       = 100_000
	maxNestingDepth      = 50
	evalTimeout          = 5 * time.Second
	interruptCheckFreq   = 100
)

type compiledRule struct {
	rule    Rule
	program cel.Program
}

func newCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Declarations(
			decls.NewVar("identity", decls.NewMapType(decls.String, decls.Dyn)),
			decls.NewVar("resource", decls.NewMapType(decls.String, decls.Dyn)),
			decls.NewVar("action", decls.String),
			decls.NewVar("arguments", decls.NewMapType(decls.String, decls.Dyn)),
		),
	)
}

func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("identity_matcher nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

func compile(env *cel.Env, rule Rule) (compiledRule, error) {
	expr := rule.Condition
	if expr == "" {
		expr = "true"
	}
	if len(expr) > maxExpressionLength {
		return compiledRule{}, fmt.Errorf("rule %q: identity_matcher too long: %d chars (max %d)", rule.ID, len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return compiledRule{}, fmt.Errorf("rule %q: %w", rule.ID, err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return compiledRule{}, fmt.Errorf("rule %q: identity_matcher compile failed: %w", rule.ID, issues.Err())
	}
	prg, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return compiledRule{}, fmt.Errorf("rule %q: program creation failed: %w", rule.ID, err)
	}
	return compiledRule{rule: rule, program: prg}, nil
}

// Compile builds a RuleSet from rules, compiling every identity_matcher
// up front so request-path evaluation never pays compilation cost. Rules
// are sorted by Priority ascending (lower priority value evaluates
// first), matching the proxy's existing rule-ordering convention.
func Compile(rules []Rule) (*RuleSet, error) {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	env, err := newCELEnv()
	if err != nil {
		return nil, gerr.New(gerr.KindConfig, "rbac.Compile", fmt.Errorf("cel environment: %w", err))
	}
	compiledRules := make([]compiledRule, 0, len(sorted))
	for _, r := range sorted {
		cr, err := compile(env, r)
		if err != nil {
			return nil, gerr.New(gerr.KindConfig, "rbac.Compile", err)
		}
		compiledRules = append(compiledRules, cr)
	}
	return &RuleSet{rules: sorted, compiled: compiledRules}, nil
}

// Union composes a global RuleSet and a listener-local RuleSet into one
// effective RuleSet: the two rule lists are concatenated and re-sorted by
// priority, so a listener-local rule can outrank or be outranked by a
// global rule purely on its Priority value, rather than the listener
// always overriding or always deferring. This fixes the Open Question
// raised in spec.md §9 about global/listener-local policy composition in
// favor of "union", not "listener replaces global" or "global always wins".
func Union(global, local *RuleSet) (*RuleSet, error) {
	var rules []Rule
	if global != nil {
		rules = append(rules, global.rules...)
	}
	if local != nil {
		rules = append(rules, local.rules...)
	}
	return Compile(rules)
}

// Evaluate walks the RuleSet in priority order and returns the first
// rule whose ResourceMatch glob and identity_matcher both match. If no
// rule matches, the request is denied by default.
func (rs *RuleSet) Evaluate(ctx context.Context, evalCtx EvaluationContext) (Decision, error) {
	if rs == nil {
		return Deny("no policy configured"), nil
	}
	activation := evalCtx.asActivationMap()
	for _, cr := range rs.compiled {
		if cr.rule.ResourceType != evalCtx.ResourceType {
			continue
		}
		matched, err := globMatch(cr.rule.ResourceMatch, evalCtx.Inner)
		if err != nil {
			return Decision{}, gerr.New(gerr.KindConfig, "rbac.Evaluate", err)
		}
		if !matched {
			continue
		}
		evalCtx2, cancel := context.WithTimeout(ctx, evalTimeout)
		result, _, err := cr.program.ContextEval(evalCtx2, activation)
		cancel()
		if err != nil {
			return Decision{}, gerr.New(gerr.KindDenied, "rbac.Evaluate", fmt.Errorf("rule %q: %w", cr.rule.ID, err))
		}
		ok, isBool := result.Value().(bool)
		if !isBool {
			return Decision{}, gerr.New(gerr.KindConfig, "rbac.Evaluate", fmt.Errorf("rule %q: identity_matcher did not return bool", cr.rule.ID))
		}
		if !ok {
			continue
		}
		return Decision{
			Allowed: cr.rule.Action == ActionAllow,
			RuleID:  cr.rule.ID,
			Reason:  fmt.Sprintf("matched rule %q", cr.rule.Name),
		}, nil
	}
	return Deny("no matching rule"), nil
}

var errBadGlobPattern = errors.New("malformed glob pattern")
