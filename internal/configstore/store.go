// Package configstore holds the gateway's in-memory configuration: the
// set of Targets, the global RuleSet, and the set of Listeners, plus the
// per-listener local RuleSet each Listener may add. It is the single
// source of truth both xDS and the local YAML loader write into, and
// the single source of truth ConnectionPool, Relay, and ListenerManager
// read from.
package configstore

import (
	"sync"

	"github.com/relaygate/relaygate/internal/domain/rbac"
	"github.com/relaygate/relaygate/internal/domain/target"
)

// ListenerKind identifies which relay protocol a Listener speaks.
type ListenerKind string

const (
	ListenerMCP ListenerKind = "mcp"
	ListenerA2A ListenerKind = "a2a"
)

// ListenerConfig describes one configured inbound listener.
type ListenerConfig struct {
	Name       string
	Kind       ListenerKind
	Addr       string
	LocalRules []rbac.Rule
}

// EventType classifies a change delivered to ConfigStore subscribers.
type EventType int

const (
	EventTargetUpserted EventType = iota
	EventTargetRemoved
	EventListenerUpserted
	EventListenerRemoved
	EventPolicyChanged
)

// Event is a single configuration change notification. Name is the
// Target or Listener name for the corresponding event types, empty for
// EventPolicyChanged (which affects every listener's effective policy).
type Event struct {
	Type EventType
	Name string
}

// Snapshot is an immutable, point-in-time view of the store's state,
// safe to read without holding any lock. RuleSets are pre-compiled.
type Snapshot struct {
	Targets       map[string]target.Target
	Listeners     map[string]ListenerConfig
	GlobalPolicy  *rbac.RuleSet
	ListenerPolicy map[string]*rbac.RuleSet // name -> global ∪ local, pre-composed
}

// Store is the concrete in-memory ConfigStore. The zero value is not
// usable; construct with New.
type Store struct {
	mu sync.RWMutex

	targets      map[string]target.Target
	listeners    map[string]ListenerConfig
	globalRules  []rbac.Rule
	globalPolicy *rbac.RuleSet

	subsMu sync.Mutex
	subs   []chan Event
}

// New returns an empty Store with no targets, listeners, or policy.
func New() *Store {
	s := &Store{
		targets:   make(map[string]target.Target),
		listeners: make(map[string]ListenerConfig),
	}
	s.globalPolicy, _ = rbac.Compile(nil)
	return s
}

// Subscribe returns a channel that receives every Event from this point
// forward. The channel is buffered; a slow subscriber may miss events if
// the buffer fills — callers that need every event should drain promptly
// and instead re-derive state from Snapshot on any event.
func (s *Store) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *Store) publish(ev Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// UpsertTarget adds or replaces a Target. t must already be Validate()d
// by the caller (xDS ingestion and the local loader both validate before
// calling in, per spec.md §4.6).
func (s *Store) UpsertTarget(t target.Target) {
	s.mu.Lock()
	s.targets[t.Name] = t
	s.mu.Unlock()
	s.publish(Event{Type: EventTargetUpserted, Name: t.Name})
}

// RemoveTarget deletes a Target by name. No-op if absent.
func (s *Store) RemoveTarget(name string) {
	s.mu.Lock()
	_, existed := s.targets[name]
	delete(s.targets, name)
	s.mu.Unlock()
	if existed {
		s.publish(Event{Type: EventTargetRemoved, Name: name})
	}
}

// UpsertListener adds or replaces a ListenerConfig.
func (s *Store) UpsertListener(l ListenerConfig) {
	s.mu.Lock()
	s.listeners[l.Name] = l
	s.mu.Unlock()
	s.publish(Event{Type: EventListenerUpserted, Name: l.Name})
}

// RemoveListener deletes a ListenerConfig by name. No-op if absent.
func (s *Store) RemoveListener(name string) {
	s.mu.Lock()
	_, existed := s.listeners[name]
	delete(s.listeners, name)
	s.mu.Unlock()
	if existed {
		s.publish(Event{Type: EventListenerRemoved, Name: name})
	}
}

// ReplaceGlobalPolicy atomically replaces the global RuleSet. Compilation
// happens before the lock is taken so a malformed policy cannot hold the
// write lock while compiling.
func (s *Store) ReplaceGlobalPolicy(rules []rbac.Rule) error {
	rs, err := rbac.Compile(rules)
	if err != nil {
		return err
	}
	cp := make([]rbac.Rule, len(rules))
	copy(cp, rules)
	s.mu.Lock()
	s.globalRules = cp
	s.globalPolicy = rs
	s.mu.Unlock()
	s.publish(Event{Type: EventPolicyChanged})
	return nil
}

// Snapshot returns a consistent, immutable view of the store. It holds
// the read lock only long enough to copy references — the maps returned
// are fresh copies so later writers never mutate what a caller is
// holding, matching the reader-preferring discipline spec.md §5 asks for.
func (s *Store) Snapshot() (Snapshot, error) {
	s.mu.RLock()
	targets := make(map[string]target.Target, len(s.targets))
	for k, v := range s.targets {
		targets[k] = v
	}
	listeners := make(map[string]ListenerConfig, len(s.listeners))
	for k, v := range s.listeners {
		listeners[k] = v
	}
	globalPolicy := s.globalPolicy
	s.mu.RUnlock()

	listenerPolicy := make(map[string]*rbac.RuleSet, len(listeners))
	for name, l := range listeners {
		local, err := rbac.Compile(l.LocalRules)
		if err != nil {
			return Snapshot{}, err
		}
		union, err := rbac.Union(globalPolicy, local)
		if err != nil {
			return Snapshot{}, err
		}
		listenerPolicy[name] = union
	}

	return Snapshot{
		Targets:        targets,
		Listeners:      listeners,
		GlobalPolicy:   globalPolicy,
		ListenerPolicy: listenerPolicy,
	}, nil
}
