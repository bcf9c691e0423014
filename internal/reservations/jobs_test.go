package reservations

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingService struct {
	stubService
	sweeps atomic.Int32
}

func (s *countingService) ExpireStalePending(context.Context) (int, error) {
	s.sweeps.Add(1)
	return 1, nil
}

func TestJobProcessorRunsExpirySweep(t *testing.T) {
	svc := &countingService{}
	jp := NewJobProcessor(svc, &JobConfig{ExpiryCheckInterval: 5 * time.Millisecond})

	jp.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for svc.sweeps.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	jp.Stop()

	if n := svc.sweeps.Load(); n < 2 {
		t.Fatalf("sweeps = %d, want at least 2", n)
	}
	if status := jp.GetJobStatus()["status"]; status != "stopped" {
		t.Errorf("status = %v, want stopped", status)
	}

	after := svc.sweeps.Load()
	time.Sleep(20 * time.Millisecond)
	if svc.sweeps.Load() != after {
		t.Error("sweeps continued after Stop")
	}
	jp.Stop()
}

func TestJobProcessorStopsWithContext(t *testing.T) {
	svc := &countingService{}
	jp := NewJobProcessor(svc, &JobConfig{ExpiryCheckInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	jp.Start(ctx)
	if status := jp.GetJobStatus()["status"]; status != "running" {
		t.Errorf("status = %v, want running", status)
	}
	cancel()

	stopped := make(chan struct{})
	go func() {
		jp.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}

func TestJobProcessorFallsBackToDefaultInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		cfg := &JobConfig{ExpiryCheckInterval: interval}
		jp := NewJobProcessor(&countingService{}, cfg)

		if got := jp.config.ExpiryCheckInterval; got != DefaultJobConfig().ExpiryCheckInterval {
			t.Errorf("interval %v: effective interval = %v", interval, got)
		}
		if cfg.ExpiryCheckInterval != interval {
			t.Errorf("caller's config was modified: %v", cfg.ExpiryCheckInterval)
		}

		jp.Start(context.Background())
		jp.Stop()
	}
}
