// Package lifecycle owns the session state machine. Each (account, label)
// pair has at most one session; transitions are driven by Spawn/Stop requests
// and reconciled against the external spawner by PollAndNotify. Transient
// states live only in this table and are rebuilt from polling after a restart.
package lifecycle

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"spawnhub/internal/fault"
	"spawnhub/internal/model"
)

// Spawner starts, stops and polls the process backing one session. Start and
// Stop return a readiness future so collaborators that complete synchronously
// and ones that complete later are handled uniformly. Poll returns nil while
// the process is alive and the exit status once it is gone.
type Spawner interface {
	Start(ctx context.Context, options map[string]any) (<-chan error, error)
	Stop(ctx context.Context) (<-chan error, error)
	Poll(ctx context.Context) (*int, error)
}

// SpawnerFactory builds a spawner for one session.
type SpawnerFactory func(account model.Account, label string) Spawner

// Event describes a lifecycle transition worth telling operators about.
type Event struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Account string             `json:"account"`
	Label   string             `json:"label"`
	State   model.SessionState `json:"state"`
	Message string             `json:"message,omitempty"`
	Time    int64              `json:"time"`
}

type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ev Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

type sessionKey struct {
	account string
	label   string
}

type session struct {
	state     model.SessionState
	spawner   Spawner
	startedAt int64
}

type Controller struct {
	mu       sync.Mutex
	sessions map[sessionKey]*session

	factory  SpawnerFactory
	notifier Notifier

	spawnWait   time.Duration
	stopWait    time.Duration
	pollTimeout time.Duration
}

type Options struct {
	Factory  SpawnerFactory
	Notifier Notifier
	// SpawnWait bounds how long a spawn request waits for readiness before
	// returning with the session still SpawnPending.
	SpawnWait time.Duration
	// StopWait is the same bound for stop requests.
	StopWait time.Duration
	// PollTimeout bounds every call into the external spawner.
	PollTimeout time.Duration
}

func New(opts Options) *Controller {
	c := &Controller{
		sessions:    make(map[sessionKey]*session),
		factory:     opts.Factory,
		notifier:    opts.Notifier,
		spawnWait:   opts.SpawnWait,
		stopWait:    opts.StopWait,
		pollTimeout: opts.PollTimeout,
	}
	if c.spawnWait <= 0 {
		c.spawnWait = 10 * time.Second
	}
	if c.stopWait <= 0 {
		c.stopWait = 10 * time.Second
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = 10 * time.Second
	}
	return c
}

// StateOf returns the current state for (account, label); absent sessions are
// Stopped.
func (c *Controller) StateOf(account, label string) model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sessions[sessionKey{account, label}]
	if s == nil {
		return model.StateStopped
	}
	return s.state
}

// Sessions lists every non-Stopped session owned by the account.
func (c *Controller) Sessions(account string) []model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result []model.Session
	for key, s := range c.sessions {
		if key.account != account || s.state == model.StateStopped {
			continue
		}
		result = append(result, model.Session{
			AccountName: key.account,
			Label:       key.label,
			State:       s.state,
			StartedAt:   s.startedAt,
		})
	}
	return result
}

// Spawn starts the session for (account, label). The returned session is
// Running when the spawner reported readiness within the wait bound (HTTP 201)
// and SpawnPending when the start is still in flight (HTTP 202).
func (c *Controller) Spawn(ctx context.Context, account model.Account, label string, options map[string]any) (model.Session, error) {
	key := sessionKey{account.Name, label}

	c.mu.Lock()
	s := c.sessions[key]
	if s != nil {
		switch s.state {
		case model.StateSpawnPending:
			c.mu.Unlock()
			return model.Session{}, fault.New(fault.Conflict, "%s's server is already being spawned", account.Name)
		case model.StateStopPending:
			c.mu.Unlock()
			return model.Session{}, fault.New(fault.Conflict, "%s's server is in the process of stopping, please wait", account.Name)
		case model.StateRunning:
			// a server that died silently must be noticed before rejecting
			c.mu.Unlock()
			state, err := c.PollAndNotify(ctx, account.Name, label)
			if err != nil {
				return model.Session{}, err
			}
			if state == model.StateRunning {
				return model.Session{}, fault.New(fault.Conflict, "%s's server is already running", account.Name)
			}
			c.mu.Lock()
			s = c.sessions[key]
			if s != nil && s.state != model.StateStopped {
				c.mu.Unlock()
				return model.Session{}, fault.New(fault.Conflict, "%s's server is already running", account.Name)
			}
		}
	}

	s = &session{state: model.StateSpawnPending, spawner: c.factory(account, label)}
	c.sessions[key] = s
	c.mu.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	ready, err := s.spawner.Start(startCtx, options)
	cancel()
	if err != nil {
		c.abandon(key, s)
		if errors.Is(err, context.DeadlineExceeded) {
			return model.Session{}, fault.Wrap(fault.Timeout, err, "spawner start for %s timed out", account.Name)
		}
		log.Printf("lifecycle: spawn failed for %s/%q: %v", account.Name, label, err)
		return model.Session{}, fault.Wrap(fault.Upstream, err, "failed to spawn %s's server", account.Name)
	}

	select {
	case err := <-ready:
		if err != nil {
			c.abandon(key, s)
			log.Printf("lifecycle: spawn failed for %s/%q: %v", account.Name, label, err)
			return model.Session{}, fault.Wrap(fault.Upstream, err, "failed to spawn %s's server", account.Name)
		}
		return c.markRunning(key, s), nil
	case <-time.After(c.spawnWait):
		go c.finishSpawn(key, s, ready)
		return model.Session{AccountName: account.Name, Label: label, State: model.StateSpawnPending}, nil
	}
}

// finishSpawn resolves a spawn that outlived the request's wait bound.
func (c *Controller) finishSpawn(key sessionKey, s *session, ready <-chan error) {
	err := <-ready
	if err != nil {
		log.Printf("lifecycle: delayed spawn failed for %s/%q: %v", key.account, key.label, err)
		c.abandon(key, s)
		c.notify(Event{
			Type: "spawn-failed", Account: key.account, Label: key.label,
			State: model.StateStopped, Message: err.Error(),
		})
		return
	}
	c.markRunning(key, s)
	c.notify(Event{
		Type: "spawned", Account: key.account, Label: key.label,
		State: model.StateRunning,
	})
}

func (c *Controller) markRunning(key sessionKey, s *session) model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessions[key] == s && s.state == model.StateSpawnPending {
		s.state = model.StateRunning
		s.startedAt = time.Now().UnixMilli()
	}
	return model.Session{AccountName: key.account, Label: key.label, State: s.state, StartedAt: s.startedAt}
}

// abandon rolls a failed transition back to Stopped.
func (c *Controller) abandon(key sessionKey, s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessions[key] == s {
		delete(c.sessions, key)
	}
}

// Stop shuts the session down. A session already StopPending returns
// immediately (HTTP 202, idempotent); a session that is not Running after
// reconciliation is an InvalidState error. The returned session is Stopped
// when shutdown completed within the wait bound (HTTP 204) and StopPending
// otherwise (HTTP 202).
func (c *Controller) Stop(ctx context.Context, account model.Account, label string) (model.Session, error) {
	key := sessionKey{account.Name, label}

	c.mu.Lock()
	s := c.sessions[key]
	if s != nil && s.state == model.StateStopPending {
		c.mu.Unlock()
		return model.Session{AccountName: account.Name, Label: label, State: model.StateStopPending}, nil
	}
	if s == nil || s.state != model.StateRunning {
		c.mu.Unlock()
		if _, err := c.PollAndNotify(ctx, account.Name, label); err != nil {
			return model.Session{}, err
		}
		return model.Session{}, fault.New(fault.InvalidState, "%s's server is not running", account.Name)
	}
	c.mu.Unlock()

	// a server that died silently is "not running", not stoppable
	state, err := c.PollAndNotify(ctx, account.Name, label)
	if err != nil {
		return model.Session{}, err
	}
	if state != model.StateRunning {
		return model.Session{}, fault.New(fault.InvalidState, "%s's server is not running", account.Name)
	}

	c.mu.Lock()
	s = c.sessions[key]
	if s == nil || s.state != model.StateRunning {
		if s != nil && s.state == model.StateStopPending {
			c.mu.Unlock()
			return model.Session{AccountName: account.Name, Label: label, State: model.StateStopPending}, nil
		}
		c.mu.Unlock()
		return model.Session{}, fault.New(fault.InvalidState, "%s's server is not running", account.Name)
	}
	s.state = model.StateStopPending
	sp := s.spawner
	c.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	done, err := sp.Stop(stopCtx)
	cancel()
	if err != nil {
		c.revertStop(key, s)
		if errors.Is(err, context.DeadlineExceeded) {
			return model.Session{}, fault.Wrap(fault.Timeout, err, "spawner stop for %s timed out", account.Name)
		}
		log.Printf("lifecycle: stop failed for %s/%q: %v", account.Name, label, err)
		return model.Session{}, fault.Wrap(fault.Upstream, err, "failed to stop %s's server", account.Name)
	}

	select {
	case err := <-done:
		if err != nil {
			c.revertStop(key, s)
			log.Printf("lifecycle: stop failed for %s/%q: %v", account.Name, label, err)
			return model.Session{}, fault.Wrap(fault.Upstream, err, "failed to stop %s's server", account.Name)
		}
		c.markStopped(key, s)
		return model.Session{AccountName: account.Name, Label: label, State: model.StateStopped}, nil
	case <-time.After(c.stopWait):
		go c.finishStop(key, s, done)
		return model.Session{AccountName: account.Name, Label: label, State: model.StateStopPending}, nil
	}
}

func (c *Controller) finishStop(key sessionKey, s *session, done <-chan error) {
	err := <-done
	if err != nil {
		log.Printf("lifecycle: delayed stop failed for %s/%q: %v", key.account, key.label, err)
		c.revertStop(key, s)
		c.notify(Event{
			Type: "stop-failed", Account: key.account, Label: key.label,
			State: model.StateRunning, Message: err.Error(),
		})
		return
	}
	c.markStopped(key, s)
	c.notify(Event{
		Type: "stopped", Account: key.account, Label: key.label,
		State: model.StateStopped,
	})
}

func (c *Controller) markStopped(key sessionKey, s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessions[key] == s {
		delete(c.sessions, key)
	}
}

// revertStop puts a session whose stop command failed back to Running; the
// process is presumed alive and PollAndNotify is the recovery path.
func (c *Controller) revertStop(key sessionKey, s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessions[key] == s && s.state == model.StateStopPending {
		s.state = model.StateRunning
	}
}

// PollAndNotify reconciles the locally believed state with the spawner's
// observation. A process found dead while the local state says Running
// transitions to Stopped and emits exactly one notification. In-flight
// transitions issued by this controller are never overridden.
func (c *Controller) PollAndNotify(ctx context.Context, account, label string) (model.SessionState, error) {
	key := sessionKey{account, label}

	c.mu.Lock()
	s := c.sessions[key]
	if s == nil {
		c.mu.Unlock()
		return model.StateStopped, nil
	}
	if s.state.Pending() {
		c.mu.Unlock()
		return s.state, nil
	}
	sp := s.spawner
	c.mu.Unlock()

	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	exit, err := sp.Poll(pollCtx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fault.Wrap(fault.Timeout, err, "spawner poll for %s timed out", account)
		}
		return "", fault.Wrap(fault.Upstream, err, "spawner poll for %s failed", account)
	}
	if exit == nil {
		return model.StateRunning, nil
	}

	c.mu.Lock()
	if c.sessions[key] == s && s.state == model.StateRunning {
		delete(c.sessions, key)
		c.mu.Unlock()
		log.Printf("lifecycle: %s/%q exited unexpectedly (status %d)", account, label, *exit)
		c.notify(Event{
			Type: "died", Account: account, Label: label,
			State: model.StateStopped, Message: "server exited unexpectedly",
		})
		return model.StateStopped, nil
	}
	state := model.StateStopped
	if cur := c.sessions[key]; cur != nil {
		state = cur.state
	}
	c.mu.Unlock()
	return state, nil
}

// ReconcileAll polls every tracked session, recovering ground truth after the
// controller lost in-flight transition memory.
func (c *Controller) ReconcileAll(ctx context.Context) {
	c.mu.Lock()
	keys := make([]sessionKey, 0, len(c.sessions))
	for key := range c.sessions {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	for _, key := range keys {
		if _, err := c.PollAndNotify(ctx, key.account, key.label); err != nil {
			log.Printf("lifecycle: reconcile poll for %s/%q failed: %v", key.account, key.label, err)
		}
	}
}

// Active reports whether the account owns any session that is not Stopped.
func (c *Controller) Active(account string) bool {
	return len(c.Sessions(account)) > 0
}

func (c *Controller) notify(ev Event) {
	if c.notifier == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Time = time.Now().UnixMilli()
	c.notifier.Notify(ev)
}
