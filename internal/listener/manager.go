// Package listener owns the set of running inbound listener tasks (one
// per configured ListenerConfig) and their lifecycle: insert, restart on
// update, and remove, each bounded by a readiness timeout. Grounded on
// the proxy's service.UpstreamManager (map + mutex + per-entry
// context.CancelFunc), applied to listener tasks instead of upstream
// connections.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gerr "github.com/relaygate/relaygate/internal/gatewayerr"
)

// readyTimeout bounds how long Insert/Update wait for a task's ready
// signal before giving up, per spec.md §4.5.
const readyTimeout = 5 * time.Second

// Task is one runnable listener. Run blocks until ctx is cancelled or an
// unrecoverable error occurs; it must close ready once it has bound
// whatever resource (a net.Listener, a stdio pipe) makes it able to
// serve requests.
type Task interface {
	Run(ctx context.Context, ready chan<- struct{}) error
}

type running struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the running set. Construct with New.
type Manager struct {
	logger *slog.Logger

	mu      sync.Mutex
	tasks   map[string]*running
	rootCtx context.Context
	cancel  context.CancelFunc
}

// New returns a Manager whose tasks are all descendants of a single
// root cancellation context, so Close cascades to every running task.
func New(logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{logger: logger, tasks: make(map[string]*running), rootCtx: ctx, cancel: cancel}
}

// Insert spawns task under name, waiting up to 5s for its ready signal.
// On timeout or the task returning an early error, the task is aborted
// and an error is returned; name is never registered in that case.
func (m *Manager) Insert(name string, task Task) error {
	m.mu.Lock()
	if _, exists := m.tasks[name]; exists {
		m.mu.Unlock()
		return gerr.New(gerr.KindConfig, "listener.Insert", fmt.Errorf("listener %q already running", name))
	}
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(m.rootCtx)
	ready := make(chan struct{})
	done := make(chan struct{})
	runErr := make(chan error, 1)

	go func() {
		defer close(done)
		runErr <- task.Run(ctx, ready)
	}()

	select {
	case <-ready:
	case err := <-runErr:
		cancel()
		<-done
		if err == nil {
			err = fmt.Errorf("listener %q exited before becoming ready", name)
		}
		return gerr.New(gerr.KindTimeout, "listener.Insert", err)
	case <-time.After(readyTimeout):
		cancel()
		<-done
		return gerr.New(gerr.KindTimeout, "listener.Insert", fmt.Errorf("listener %q: timed out waiting for ready after %s", name, readyTimeout))
	}

	m.mu.Lock()
	m.tasks[name] = &running{cancel: cancel, done: done}
	m.mu.Unlock()

	go func() {
		if err := <-runErr; err != nil {
			m.logger.Error("listener task exited", "listener", name, "error", err)
		}
	}()

	m.logger.Info("listener ready", "listener", name)
	return nil
}

// Update aborts name's existing task, if any, then performs an Insert.
// This is a restart, not a hot swap, matching spec.md §4.5.
func (m *Manager) Update(name string, task Task) error {
	m.Remove(name)
	return m.Insert(name, task)
}

// Remove aborts name's task and waits for it to finish. No-op if name
// isn't running.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	r, ok := m.tasks[name]
	if ok {
		delete(m.tasks, name)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	<-r.done
	m.logger.Info("listener removed", "listener", name)
}

// Close aborts every running task and waits for all to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	tasks := make([]*running, 0, len(m.tasks))
	for _, r := range m.tasks {
		tasks = append(tasks, r)
	}
	m.tasks = make(map[string]*running)
	m.mu.Unlock()

	m.cancel()
	for _, r := range tasks {
		<-r.done
	}
}
