package health

import (
	"context"
	"testing"
	"time"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry(0)
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("store", func(_ context.Context) Status {
		return Status{Name: "store", Healthy: true}
	})
	r.Register("nats", func(_ context.Context) Status {
		return Status{Healthy: true, Detail: "connected"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[1].Name != "nats" {
		t.Errorf("expected missing name to default to registration name, got %q", statuses[1].Name)
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("store", func(_ context.Context) Status {
		return Status{Name: "store", Healthy: true}
	})
	r.Register("payments", func(_ context.Context) Status {
		return Status{Name: "payments", Healthy: false, Detail: "circuit open"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if statuses[0].Name != "store" || statuses[1].Name != "payments" {
		t.Errorf("statuses out of registration order: %+v", statuses)
	}
}

func TestRegistrySlowCheckerTimesOut(t *testing.T) {
	r := NewRegistry(50 * time.Millisecond)
	r.Register("slow", func(ctx context.Context) Status {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			time.Sleep(10 * time.Millisecond)
		}
		return Status{Name: "slow", Healthy: true}
	})

	start := time.Now()
	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("timed-out checker should be unhealthy")
	}
	if statuses[0].Detail != "check timed out" {
		t.Errorf("unexpected detail %q", statuses[0].Detail)
	}
	if time.Since(start) > time.Second {
		t.Error("CheckAll waited for the slow checker")
	}
}
