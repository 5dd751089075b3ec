package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 3,
		FailureRatio:     0.5,
		MinRequests:      5,
	}
}

func TestExecutePassesThroughWhenClosed(t *testing.T) {
	cb := New(testConfig("ok"), nil)

	got, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got != 42 {
		t.Errorf("got %v", got)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed", cb.GetState())
	}
}

func TestConsecutiveFailuresOpenBreaker(t *testing.T) {
	cb := New(testConfig("flaky"), nil)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if _, err := cb.Execute(context.Background(), func() (interface{}, error) {
			return nil, boom
		}); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: got %v", i, err)
		}
	}

	if !cb.IsOpen() {
		t.Fatal("breaker must open after three consecutive failures")
	}

	// Open breaker short-circuits without invoking the function
	called := false
	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		called = true
		return nil, nil
	})
	if err == nil {
		t.Fatal("open breaker must reject calls")
	}
	if called {
		t.Error("open breaker must not invoke the function")
	}
}

func TestExecuteWithFallback(t *testing.T) {
	cb := New(testConfig("fb"), nil)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), func() (interface{}, error) { return nil, boom })
	}
	if !cb.IsOpen() {
		t.Fatal("breaker should be open")
	}

	got, err := cb.ExecuteWithFallback(context.Background(),
		func() (interface{}, error) { return nil, nil },
		func(err error) (interface{}, error) { return "fallback", nil })
	if err != nil {
		t.Fatalf("fallback failed: %v", err)
	}
	if got != "fallback" {
		t.Errorf("got %v", got)
	}
}

func TestFallbackNotUsedForOrdinaryErrors(t *testing.T) {
	cb := New(testConfig("ord"), nil)
	boom := errors.New("boom")

	_, err := cb.ExecuteWithFallback(context.Background(),
		func() (interface{}, error) { return nil, boom },
		func(err error) (interface{}, error) { return "fallback", nil })
	if !errors.Is(err, boom) {
		t.Fatalf("ordinary failure must surface, got %v", err)
	}
}

func TestManagerReturnsSameBreaker(t *testing.T) {
	m := NewManager(nil)

	a := m.GetOrCreate("interaction-db", testConfig("interaction-db"))
	b := m.GetOrCreate("interaction-db", testConfig("interaction-db"))
	if a != b {
		t.Error("same name must return the same breaker")
	}

	if _, ok := m.Get("interaction-db"); !ok {
		t.Error("Get must find a created breaker")
	}
	if _, ok := m.Get("missing"); ok {
		t.Error("Get must not find an unknown breaker")
	}
	if len(m.All()) != 1 {
		t.Errorf("All = %d breakers, want 1", len(m.All()))
	}
}
