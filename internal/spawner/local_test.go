package spawner

import (
	"context"
	"testing"
	"time"

	"spawnhub/internal/model"
)

func TestLocalProcess_StartStopPoll(t *testing.T) {
	factory := NewLocalFactory([]string{"sleep", "60"})
	sp := factory(model.Account{Name: "alice"}, "")

	ready, err := sp.Start(context.Background(), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := <-ready; err != nil {
		t.Fatalf("ready: %v", err)
	}

	exit, err := sp.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if exit != nil {
		t.Fatalf("expected running, got exit %d", *exit)
	}

	done, err := sp.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("process never exited after SIGTERM")
	}

	exit, err = sp.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll after stop: %v", err)
	}
	if exit == nil {
		t.Fatalf("expected exit status after stop")
	}
}

func TestLocalProcess_PollBeforeStart(t *testing.T) {
	sp := NewLocalFactory([]string{"sleep", "60"})(model.Account{Name: "alice"}, "")

	exit, err := sp.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if exit == nil {
		t.Fatalf("a never-started process must report as exited")
	}
}

func TestLocalProcess_EmptyCommand(t *testing.T) {
	sp := NewLocalFactory(nil)(model.Account{Name: "alice"}, "")

	if _, err := sp.Start(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestLocalProcess_DoubleStart(t *testing.T) {
	sp := NewLocalFactory([]string{"sleep", "60"})(model.Account{Name: "alice"}, "")

	ready, err := sp.Start(context.Background(), nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-ready
	if _, err := sp.Start(context.Background(), nil); err == nil {
		t.Fatalf("expected error for second start")
	}

	done, err := sp.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-done
}
