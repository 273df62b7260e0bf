package qwen

import (
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("closed breaker rejected call %d", i)
		}
		cb.RecordFailure()
	}

	if cb.State() != CircuitOpen {
		t.Errorf("state after threshold: got %v, want open", cb.State())
	}
	if cb.Allow() {
		t.Error("open breaker must reject calls")
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != CircuitClosed {
		t.Error("non-consecutive failures must not trip the breaker")
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("recovery timeout elapsed, probe must be allowed")
	}
	if cb.State() != CircuitHalfOpen {
		t.Errorf("state: got %v, want half-open", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Error("successful probe must close the circuit")
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow() // transition to half-open
	cb.RecordFailure()

	if cb.State() != CircuitOpen {
		t.Error("failed probe must re-open the circuit")
	}
}

func TestCircuitBreaker_TripBypassesThreshold(t *testing.T) {
	cb := NewCircuitBreaker(100, time.Minute)

	cb.Trip()
	if cb.State() != CircuitOpen {
		t.Error("Trip must open the circuit immediately")
	}
	if cb.Allow() {
		t.Error("tripped breaker must reject calls")
	}

	cb.Reset()
	if cb.State() != CircuitClosed || !cb.Allow() {
		t.Error("Reset must close the circuit")
	}
}
