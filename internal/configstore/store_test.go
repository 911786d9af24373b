package configstore

import (
	"testing"
	"time"

	"github.com/relaygate/relaygate/internal/domain/rbac"
	"github.com/relaygate/relaygate/internal/domain/target"
)

func TestNew_EmptySnapshot(t *testing.T) {
	s := New()
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Targets) != 0 || len(snap.Listeners) != 0 {
		t.Errorf("expected empty snapshot, got %+v", snap)
	}
	if snap.GlobalPolicy == nil {
		t.Error("GlobalPolicy should be a compiled empty RuleSet, not nil")
	}
}

func TestUpsertAndRemoveTarget(t *testing.T) {
	s := New()
	tgt := target.Target{Name: "fs", Spec: target.StdioSpec{Command: "mcp-fs"}}
	s.UpsertTarget(tgt)

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, ok := snap.Targets["fs"]; !ok {
		t.Fatal("target not present after UpsertTarget")
	}

	s.RemoveTarget("fs")
	snap, err = s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, ok := snap.Targets["fs"]; ok {
		t.Error("target still present after RemoveTarget")
	}
}

func TestSnapshot_ReturnsIndependentCopy(t *testing.T) {
	s := New()
	s.UpsertTarget(target.Target{Name: "a", Spec: target.StdioSpec{Command: "x"}})

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	delete(snap.Targets, "a")

	snap2, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, ok := snap2.Targets["a"]; !ok {
		t.Error("mutating a returned snapshot's map affected the store")
	}
}

func TestUpsertListener_ComposesListenerPolicy(t *testing.T) {
	s := New()
	if err := s.ReplaceGlobalPolicy([]rbac.Rule{
		{ID: "g1", ResourceType: rbac.ResourceTool, ResourceMatch: "*", Action: rbac.ActionAllow},
	}); err != nil {
		t.Fatalf("ReplaceGlobalPolicy: %v", err)
	}

	s.UpsertListener(ListenerConfig{
		Name: "public",
		Kind: ListenerMCP,
		Addr: ":8080",
		LocalRules: []rbac.Rule{
			{ID: "l1", ResourceType: rbac.ResourceTool, ResourceMatch: "danger_*", Action: rbac.ActionDeny},
		},
	})

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	policy, ok := snap.ListenerPolicy["public"]
	if !ok {
		t.Fatal("listener policy not composed for public listener")
	}
	if policy == nil {
		t.Fatal("composed listener policy is nil")
	}
}

func TestRemoveListener_NoOpWhenAbsent(t *testing.T) {
	s := New()
	s.RemoveListener("does-not-exist") // must not panic
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	s := New()
	ch := s.Subscribe()

	s.UpsertTarget(target.Target{Name: "x", Spec: target.StdioSpec{Command: "c"}})

	select {
	case ev := <-ch:
		if ev.Type != EventTargetUpserted || ev.Name != "x" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber event")
	}
}

func TestReplaceGlobalPolicy_RejectsInvalidCondition(t *testing.T) {
	s := New()
	err := s.ReplaceGlobalPolicy([]rbac.Rule{
		{ID: "bad", Condition: "not valid cel (("},
	})
	if err == nil {
		t.Fatal("expected error for malformed rule condition")
	}
}
