package rbac

import (
	"context"
	"testing"

	"github.com/relaygate/relaygate/internal/domain/identity"
)

func TestCompile_SortsByPriority(t *testing.T) {
	rules := []Rule{
		{ID: "b", Priority: 10, ResourceType: ResourceTool, ResourceMatch: "*", Action: ActionAllow},
		{ID: "a", Priority: 1, ResourceType: ResourceTool, ResourceMatch: "*", Action: ActionDeny},
	}
	rs, err := Compile(rules)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if rs.compiled[0].rule.ID != "a" || rs.compiled[1].rule.ID != "b" {
		t.Errorf("compiled rules not sorted by priority: %v", rs.compiled)
	}
}

func TestCompile_RejectsOversizedExpression(t *testing.T) {
	huge := make([]byte, maxExpressionLength+1)
	for i := range huge {
		huge[i] = 'a'
	}
	_, err := Compile([]Rule{{ID: "x", Condition: string(huge)}})
	if err == nil {
		t.Fatal("expected error for oversized identity_matcher")
	}
}

func TestCompile_RejectsBadExpression(t *testing.T) {
	_, err := Compile([]Rule{{ID: "x", Condition: "this is not valid cel (("}})
	if err == nil {
		t.Fatal("expected compile error for malformed CEL expression")
	}
}

func TestEvaluate_NilRuleSetDenies(t *testing.T) {
	var rs *RuleSet
	dec, err := rs.Evaluate(context.Background(), EvaluationContext{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dec.Allowed {
		t.Error("nil RuleSet should deny")
	}
}

func TestEvaluate_NoMatchDeniesByDefault(t *testing.T) {
	rs, err := Compile([]Rule{
		{ID: "only", ResourceType: ResourceTool, ResourceMatch: "other_*", Action: ActionAllow},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	dec, err := rs.Evaluate(context.Background(), EvaluationContext{
		ResourceType: ResourceTool,
		Inner:        "fetch",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dec.Allowed {
		t.Error("non-matching glob should deny by default")
	}
}

func TestEvaluate_AllowsOnGlobMatch(t *testing.T) {
	rs, err := Compile([]Rule{
		{ID: "allow-fetch", Name: "allow fetch tools", ResourceType: ResourceTool, ResourceMatch: "fetch_*", Action: ActionAllow},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	dec, err := rs.Evaluate(context.Background(), EvaluationContext{
		ResourceType: ResourceTool,
		Inner:        "fetch_url",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !dec.Allowed {
		t.Errorf("expected allow, got deny: %+v", dec)
	}
	if dec.RuleID != "allow-fetch" {
		t.Errorf("RuleID = %q, want allow-fetch", dec.RuleID)
	}
}

func TestEvaluate_ConditionGatesOnIdentity(t *testing.T) {
	rs, err := Compile([]Rule{
		{
			ID:            "admin-only",
			ResourceType:  ResourceTool,
			ResourceMatch: "*",
			Condition:     `"admin" in identity.roles`,
			Action:        ActionAllow,
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	admin := EvaluationContext{
		Identity:     identity.Identity{ID: "u1", Roles: []string{"admin"}},
		ResourceType: ResourceTool,
		Inner:        "anything",
	}
	dec, err := rs.Evaluate(context.Background(), admin)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !dec.Allowed {
		t.Error("admin identity should be allowed")
	}

	nonAdmin := EvaluationContext{
		Identity:     identity.Identity{ID: "u2", Roles: []string{"viewer"}},
		ResourceType: ResourceTool,
		Inner:        "anything",
	}
	dec, err = rs.Evaluate(context.Background(), nonAdmin)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dec.Allowed {
		t.Error("non-admin identity should be denied")
	}
}

func TestEvaluate_DenyRuleOutranksAllow(t *testing.T) {
	rs, err := Compile([]Rule{
		{ID: "deny-danger", Priority: 1, ResourceType: ResourceTool, ResourceMatch: "danger_*", Action: ActionDeny},
		{ID: "allow-all", Priority: 10, ResourceType: ResourceTool, ResourceMatch: "*", Action: ActionAllow},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	dec, err := rs.Evaluate(context.Background(), EvaluationContext{
		ResourceType: ResourceTool,
		Inner:        "danger_delete",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dec.Allowed {
		t.Error("lower-priority deny rule should win over the catch-all allow")
	}
	if dec.RuleID != "deny-danger" {
		t.Errorf("RuleID = %q, want deny-danger", dec.RuleID)
	}
}

func TestUnion_ComposesGlobalAndLocalByPriority(t *testing.T) {
	global, err := Compile([]Rule{
		{ID: "global-deny", Priority: 5, ResourceType: ResourceTool, ResourceMatch: "secret_*", Action: ActionDeny},
	})
	if err != nil {
		t.Fatalf("Compile global: %v", err)
	}
	local, err := Compile([]Rule{
		{ID: "local-allow", Priority: 1, ResourceType: ResourceTool, ResourceMatch: "secret_read", Action: ActionAllow},
	})
	if err != nil {
		t.Fatalf("Compile local: %v", err)
	}

	union, err := Union(global, local)
	if err != nil {
		t.Fatalf("Union: %v", err)
	}

	dec, err := union.Evaluate(context.Background(), EvaluationContext{ResourceType: ResourceTool, Inner: "secret_read"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !dec.Allowed {
		t.Error("local rule with lower priority should outrank the global deny")
	}

	dec, err = union.Evaluate(context.Background(), EvaluationContext{ResourceType: ResourceTool, Inner: "secret_write"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dec.Allowed {
		t.Error("global deny should still apply to resources the local rule doesn't cover")
	}
}

func TestUnion_NilArgumentsProduceEmptyRuleSet(t *testing.T) {
	rs, err := Union(nil, nil)
	if err != nil {
		t.Fatalf("Union: %v", err)
	}
	dec, err := rs.Evaluate(context.Background(), EvaluationContext{ResourceType: ResourceTool, Inner: "x"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dec.Allowed {
		t.Error("empty union should deny by default")
	}
}
