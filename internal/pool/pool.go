// Package pool implements the gateway's ConnectionPool: a lazy,
// at-most-one-per-(identity, name) cache of live upstream connections,
// grounded on the proxy's existing service.UpstreamManager (map + mutex +
// per-entry ready-channel pattern) generalized from two transport kinds
// to four, and keyed by caller identity rather than a single shared
// connection per target.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/relaygate/relaygate/internal/configstore"
	"github.com/relaygate/relaygate/internal/domain/identity"
	"github.com/relaygate/relaygate/internal/domain/target"
	gerr "github.com/relaygate/relaygate/internal/gatewayerr"
	"github.com/relaygate/relaygate/internal/upstream"
)

const (
	backoffBase = 1 * time.Second
	backoffCap  = 60 * time.Second
	maxRetries  = 10
)

// entry is one cached slot, mirroring upstream_manager's ready-channel
// pattern: a goroutine calling get_or_create for a key already under
// construction blocks on ready rather than racing a second construction.
type entry struct {
	// name is the target name this entry was created for, set before
	// construction starts so Remove can match entries by name without
	// waiting on ready first.
	name  string
	ready chan struct{}
	conn  upstream.Connection
	kind  target.Kind
	err   error

	// cancel ends the connection's context and is set for every
	// connected entry; retries and targetRef support stdio auto-respawn
	// and retries stays zero for non-stdio entries.
	mu        sync.Mutex
	retries   int
	cancel    context.CancelFunc
	targetRef target.Target
}

// Pool is the concrete ConnectionPool. Construct with New.
type Pool struct {
	store *configstore.Store

	mu      sync.Mutex
	entries map[uint64]*entry
}

// New returns a Pool backed by store. store is read for target specs on
// every cache miss; the pool itself is the only thing that ever mutates
// its own connection cache.
func New(store *configstore.Store) *Pool {
	return &Pool{store: store, entries: make(map[uint64]*entry)}
}

func cacheKey(id identity.Identity, name string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(id.ID)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(name)
	return h.Sum64()
}

// GetOrCreate returns the cached connection for (id, name), constructing
// one if this is the first caller to ask for that pair. Concurrent
// callers for the same pair block on the same construction rather than
// racing duplicate connections (spec.md §4.3's at-most-one guarantee).
// The target's configuration is read once at construction time; a later
// config change is only picked up once the cached entry is removed (see
// SPEC_FULL.md §9's Open Question resolution).
func (p *Pool) GetOrCreate(ctx context.Context, id identity.Identity, name string) (upstream.Connection, error) {
	key := cacheKey(id, name)

	p.mu.Lock()
	if e, ok := p.entries[key]; ok {
		p.mu.Unlock()
		<-e.ready
		return e.conn, e.err
	}
	e := &entry{name: name, ready: make(chan struct{})}
	p.entries[key] = e
	p.mu.Unlock()

	// Construction happens outside the pool lock so a slow upstream dial
	// never blocks unrelated get_or_create calls.
	snap, err := p.store.Snapshot()
	if err != nil {
		e.err = gerr.New(gerr.KindConnect, "pool.GetOrCreate", err)
		close(e.ready)
		p.evict(key, e)
		return nil, e.err
	}
	t, ok := snap.Targets[name]
	if !ok {
		e.err = gerr.New(gerr.KindRoute, "pool.GetOrCreate", fmt.Errorf("target configuration not found: %s", name))
		close(e.ready)
		p.evict(key, e)
		return nil, e.err
	}

	conn, connCtx, cancel, err := connect(ctx, name, t)
	if err != nil {
		e.err = gerr.New(gerr.KindConnect, "pool.GetOrCreate", err)
		close(e.ready)
		p.evict(key, e)
		return nil, e.err
	}

	e.conn = conn
	e.kind = t.Spec.Kind()
	e.cancel = cancel
	e.targetRef = t
	close(e.ready)

	if stdio, ok := conn.(*upstream.StdioConnection); ok {
		go p.superviseStdio(connCtx, key, e, stdio)
	}
	return conn, nil
}

func connect(ctx context.Context, name string, t target.Target) (upstream.Connection, context.Context, context.CancelFunc, error) {
	// The connection outlives the request that created it: only Remove or
	// Close (through cancel) ends connCtx.
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	switch spec := t.Spec.(type) {
	case target.StdioSpec:
		c := upstream.NewStdioConnection(name, spec.Command, spec.Args, spec.Env)
		if err := c.Start(connCtx); err != nil {
			cancel()
			return nil, nil, nil, err
		}
		return c, connCtx, cancel, nil
	case target.MCPSSESpec:
		return upstream.NewSSEConnection(name, spec), connCtx, cancel, nil
	case target.A2ASSESpec:
		return upstream.NewA2AConnection(name, spec), connCtx, cancel, nil
	case target.OpenAPISpec:
		c, err := upstream.NewOpenAPIConnection(connCtx, name, spec)
		if err != nil {
			cancel()
			return nil, nil, nil, err
		}
		return c, connCtx, cancel, nil
	default:
		cancel()
		return nil, nil, nil, fmt.Errorf("target %q: unsupported spec type %T", name, t.Spec)
	}
}

// superviseStdio respawns a stdio connection's subprocess if it exits,
// with exponential backoff, the way upstream_manager's monitorHealth +
// scheduleRetry loop has always supervised stdio upstreams. The retry
// count is kept for the entry's whole lifetime and never reset: once the
// subprocess has exited more than maxRetries times it gives up and evicts
// the cache entry so the next get_or_create starts fresh.
func (p *Pool) superviseStdio(ctx context.Context, key uint64, e *entry, conn *upstream.StdioConnection) {
	_ = conn.Wait()
	if ctx.Err() != nil {
		return // pool shutting down or entry explicitly removed
	}

	e.mu.Lock()
	e.retries++
	retries := e.retries
	e.mu.Unlock()
	if retries > maxRetries {
		p.evict(key, e)
		return
	}

	delay := backoffBase << (retries - 1)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	spec, ok := e.targetRef.Spec.(target.StdioSpec)
	if !ok {
		return
	}
	fresh := upstream.NewStdioConnection(e.targetRef.Name, spec.Command, spec.Args, spec.Env)
	if err := fresh.Start(ctx); err != nil {
		go p.superviseStdio(ctx, key, e, conn) // retry the same backoff ladder
		return
	}

	p.mu.Lock()
	if cur, ok := p.entries[key]; ok && cur == e {
		e.conn = fresh
	}
	p.mu.Unlock()

	go p.superviseStdio(ctx, key, e, fresh)
}

func (p *Pool) evict(key uint64, e *entry) {
	p.mu.Lock()
	if cur, ok := p.entries[key]; ok && cur == e {
		delete(p.entries, key)
	}
	p.mu.Unlock()
}

// List returns the live connection for every currently configured target
// matching kinds, lazily connecting any that aren't cached yet for id.
// Failures are dropped rather than propagated, matching the relay's
// fan-out-and-merge semantics where one unreachable target must not fail
// an entire list_* call.
func (p *Pool) List(ctx context.Context, id identity.Identity, kinds ...target.Kind) []upstream.Connection {
	snap, err := p.store.Snapshot()
	if err != nil {
		return nil
	}
	want := make(map[target.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	var out []upstream.Connection
	for name, t := range snap.Targets {
		if len(want) > 0 && !want[t.Spec.Kind()] {
			continue
		}
		conn, err := p.GetOrCreate(ctx, id, name)
		if err != nil {
			continue
		}
		out = append(out, conn)
	}
	return out
}

// Remove closes and evicts every cached connection for name, regardless
// of which identity created it. Called when ConfigStore removes the
// corresponding Target.
//
// Matching is done against entry.name, which is set at entry creation
// time before construction begins, so the pool-wide lock is only held
// long enough to find and delete the matching map keys — it never blocks
// on an in-flight construction for name, let alone on one for an
// unrelated target, per spec.md §5's lock discipline.
func (p *Pool) Remove(name string) {
	p.mu.Lock()
	var toClose []*entry
	for key, e := range p.entries {
		if e.name == name {
			toClose = append(toClose, e)
			delete(p.entries, key)
		}
	}
	p.mu.Unlock()

	for _, e := range toClose {
		<-e.ready
		if e.cancel != nil {
			e.cancel()
		}
		if e.conn != nil {
			_ = e.conn.Close()
		}
	}
}

// Close tears down every cached connection. Intended for gateway
// shutdown.
func (p *Pool) Close() error {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.entries = make(map[uint64]*entry)
	p.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		if e.cancel != nil {
			e.cancel()
		}
		if e.conn != nil {
			_ = e.conn.Close()
		}
	}
	return nil
}
