package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spawnhub/internal/fault"
	"spawnhub/internal/model"
)

type fakeSpawner struct {
	mu       sync.Mutex
	running  bool
	starts   int
	startErr error
	stopErr  error
	pollErr  error
	ready    chan error // when set, Start returns it instead of resolving
	done     chan error // when set, Stop returns it instead of resolving
}

func (f *fakeSpawner) Start(ctx context.Context, options map[string]any) (<-chan error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.startErr != nil {
		return nil, f.startErr
	}
	f.starts++
	if f.ready != nil {
		return f.ready, nil
	}
	f.running = true
	ch := make(chan error, 1)
	ch <- nil
	return ch, nil
}

func (f *fakeSpawner) Stop(ctx context.Context) (<-chan error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopErr != nil {
		return nil, f.stopErr
	}
	if f.done != nil {
		return f.done, nil
	}
	f.running = false
	ch := make(chan error, 1)
	ch <- nil
	return ch, nil
}

func (f *fakeSpawner) Poll(ctx context.Context) (*int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if f.running {
		return nil, nil
	}
	code := 1
	return &code, nil
}

func (f *fakeSpawner) die() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

func (f *fakeSpawner) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) count(typ string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, ev := range n.events {
		if ev.Type == typ {
			c++
		}
	}
	return c
}

func newTestController(sp *fakeSpawner, n Notifier) *Controller {
	return New(Options{
		Factory:     func(account model.Account, label string) Spawner { return sp },
		Notifier:    n,
		SpawnWait:   50 * time.Millisecond,
		StopWait:    50 * time.Millisecond,
		PollTimeout: time.Second,
	})
}

func waitForState(t *testing.T, c *Controller, account, label string, want model.SessionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.StateOf(account, label) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, last %s", want, c.StateOf(account, label))
}

var alice = model.Account{Name: "alice"}

func TestSpawn_SynchronouslyRunning(t *testing.T) {
	sp := &fakeSpawner{}
	c := newTestController(sp, nil)

	sess, err := c.Spawn(context.Background(), alice, "", nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if sess.State != model.StateRunning {
		t.Fatalf("expected Running, got %s", sess.State)
	}
	if sp.startCount() != 1 {
		t.Fatalf("expected 1 start, got %d", sp.startCount())
	}
}

func TestSpawn_ConflictWhileAlive(t *testing.T) {
	sp := &fakeSpawner{}
	c := newTestController(sp, nil)

	if _, err := c.Spawn(context.Background(), alice, "", nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	_, err := c.Spawn(context.Background(), alice, "", nil)
	if !fault.IsKind(err, fault.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	if sp.startCount() != 1 {
		t.Fatalf("second spawn must not start a second process, starts=%d", sp.startCount())
	}
}

func TestSpawn_ProceedsAfterSilentDeath(t *testing.T) {
	sp := &fakeSpawner{}
	n := &recordingNotifier{}
	c := newTestController(sp, n)

	if _, err := c.Spawn(context.Background(), alice, "", nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	sp.die()

	sess, err := c.Spawn(context.Background(), alice, "", nil)
	if err != nil {
		t.Fatalf("respawn after death: %v", err)
	}
	if sess.State != model.StateRunning {
		t.Fatalf("expected Running, got %s", sess.State)
	}
	if sp.startCount() != 2 {
		t.Fatalf("expected 2 starts, got %d", sp.startCount())
	}
	if n.count("died") != 1 {
		t.Fatalf("expected exactly 1 death notification, got %d", n.count("died"))
	}
}

func TestSpawn_PendingWhenSlow(t *testing.T) {
	sp := &fakeSpawner{ready: make(chan error, 1)}
	c := newTestController(sp, &recordingNotifier{})

	sess, err := c.Spawn(context.Background(), alice, "", nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if sess.State != model.StateSpawnPending {
		t.Fatalf("expected SpawnPending, got %s", sess.State)
	}

	sp.mu.Lock()
	sp.running = true
	sp.mu.Unlock()
	sp.ready <- nil
	waitForState(t, c, "alice", "", model.StateRunning)
}

func TestSpawn_FailureRollsBackToStopped(t *testing.T) {
	sp := &fakeSpawner{startErr: errors.New("no such image")}
	c := newTestController(sp, nil)

	_, err := c.Spawn(context.Background(), alice, "", nil)
	if !fault.IsKind(err, fault.Upstream) {
		t.Fatalf("expected Upstream, got %v", err)
	}
	if c.StateOf("alice", "") != model.StateStopped {
		t.Fatalf("expected Stopped after failed spawn")
	}
}

func TestSpawn_TimeoutLeavesStateAlone(t *testing.T) {
	sp := &fakeSpawner{startErr: context.DeadlineExceeded}
	c := newTestController(sp, nil)

	_, err := c.Spawn(context.Background(), alice, "", nil)
	if !fault.IsKind(err, fault.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if c.StateOf("alice", "") != model.StateStopped {
		t.Fatalf("expected Stopped after timed out spawn")
	}
}

func TestStop_Synchronous(t *testing.T) {
	sp := &fakeSpawner{}
	c := newTestController(sp, nil)

	if _, err := c.Spawn(context.Background(), alice, "", nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	sess, err := c.Stop(context.Background(), alice, "")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sess.State != model.StateStopped {
		t.Fatalf("expected Stopped, got %s", sess.State)
	}
}

func TestStop_IdempotentWhilePending(t *testing.T) {
	sp := &fakeSpawner{done: make(chan error, 1)}
	c := newTestController(sp, &recordingNotifier{})

	if _, err := c.Spawn(context.Background(), alice, "", nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	first, err := c.Stop(context.Background(), alice, "")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if first.State != model.StateStopPending {
		t.Fatalf("expected StopPending, got %s", first.State)
	}

	second, err := c.Stop(context.Background(), alice, "")
	if err != nil {
		t.Fatalf("second Stop must not error: %v", err)
	}
	if second.State != model.StateStopPending {
		t.Fatalf("expected StopPending, got %s", second.State)
	}

	sp.die()
	sp.done <- nil
	waitForState(t, c, "alice", "", model.StateStopped)
}

func TestStop_NotRunning(t *testing.T) {
	sp := &fakeSpawner{}
	c := newTestController(sp, nil)

	_, err := c.Stop(context.Background(), alice, "")
	if !fault.IsKind(err, fault.InvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
}

func TestStop_AfterSilentDeath(t *testing.T) {
	sp := &fakeSpawner{}
	n := &recordingNotifier{}
	c := newTestController(sp, n)

	if _, err := c.Spawn(context.Background(), alice, "", nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	sp.die()

	_, err := c.Stop(context.Background(), alice, "")
	if !fault.IsKind(err, fault.InvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
	if n.count("died") != 1 {
		t.Fatalf("expected death noticed during stop, got %d events", n.count("died"))
	}
}

func TestPollAndNotify_NotifiesDeathExactlyOnce(t *testing.T) {
	sp := &fakeSpawner{}
	n := &recordingNotifier{}
	c := newTestController(sp, n)

	if _, err := c.Spawn(context.Background(), alice, "", nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	sp.die()

	state, err := c.PollAndNotify(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("PollAndNotify: %v", err)
	}
	if state != model.StateStopped {
		t.Fatalf("expected Stopped, got %s", state)
	}

	state, err = c.PollAndNotify(context.Background(), "alice", "")
	if err != nil || state != model.StateStopped {
		t.Fatalf("expected Stopped again, got %s %v", state, err)
	}
	if n.count("died") != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", n.count("died"))
	}
}

func TestPollAndNotify_DoesNotOverridePending(t *testing.T) {
	sp := &fakeSpawner{ready: make(chan error, 1)}
	c := newTestController(sp, &recordingNotifier{})

	if _, err := c.Spawn(context.Background(), alice, "", nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	state, err := c.PollAndNotify(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("PollAndNotify: %v", err)
	}
	if state != model.StateSpawnPending {
		t.Fatalf("expected SpawnPending preserved, got %s", state)
	}
	sp.ready <- nil
}

func TestPollAndNotify_Timeout(t *testing.T) {
	sp := &fakeSpawner{}
	c := newTestController(sp, nil)

	if _, err := c.Spawn(context.Background(), alice, "", nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	sp.mu.Lock()
	sp.pollErr = context.DeadlineExceeded
	sp.mu.Unlock()

	_, err := c.PollAndNotify(context.Background(), "alice", "")
	if !fault.IsKind(err, fault.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if c.StateOf("alice", "") != model.StateRunning {
		t.Fatalf("timeout must not change local state")
	}
}

func TestSessions_LabelsPartitionNamespace(t *testing.T) {
	sp := &fakeSpawner{}
	c := newTestController(sp, nil)

	if _, err := c.Spawn(context.Background(), alice, "", nil); err != nil {
		t.Fatalf("Spawn default: %v", err)
	}
	if _, err := c.Spawn(context.Background(), alice, "gpu", nil); err != nil {
		t.Fatalf("Spawn named: %v", err)
	}

	sessions := c.Sessions("alice")
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if !c.Active("alice") {
		t.Fatalf("expected account active")
	}
	if c.Active("bob") {
		t.Fatalf("expected bob inactive")
	}
}
