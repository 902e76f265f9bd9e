package service

import (
	"testing"
	"time"
)

func TestTurnBudget_WriteCeiling(t *testing.T) {
	clock := newTestClock()
	b := NewTurnBudget(3, time.Second, clock.Now)

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("write %d refused before the ceiling", i+1)
		}
	}
	for i := 0; i < 4; i++ {
		if b.Allow() {
			t.Fatal("write allowed past the ceiling")
		}
	}

	if b.Writes() != 3 {
		t.Errorf("Writes() = %d, want 3", b.Writes())
	}
	if b.Skipped() != 4 {
		t.Errorf("Skipped() = %d, want 4", b.Skipped())
	}
	if b.Exceeded() != BudgetExceededWrites {
		t.Errorf("Exceeded() = %q, want %q", b.Exceeded(), BudgetExceededWrites)
	}
	if !b.TimeLeft() {
		t.Error("TimeLeft() = false, want true while only writes are exhausted")
	}
}

func TestTurnBudget_TimeCeiling(t *testing.T) {
	clock := newTestClock()
	b := NewTurnBudget(10, 15*time.Second, clock.Now)

	if !b.Allow() {
		t.Fatal("first write refused")
	}
	clock.Advance(16 * time.Second)

	if b.TimeLeft() {
		t.Error("TimeLeft() = true after the deadline")
	}
	if b.Allow() {
		t.Error("write allowed after the deadline")
	}
	if b.Exceeded() != BudgetExceededTime {
		t.Errorf("Exceeded() = %q, want %q", b.Exceeded(), BudgetExceededTime)
	}
	if b.Elapsed() != 16*time.Second {
		t.Errorf("Elapsed() = %v, want 16s", b.Elapsed())
	}
}

func TestTurnBudget_Unlimited(t *testing.T) {
	b := NewTurnBudget(0, 0, nil)
	for i := 0; i < 100; i++ {
		if !b.Allow() {
			t.Fatalf("write %d refused with no ceilings", i+1)
		}
	}
	if b.Exceeded() != "" || b.Skipped() != 0 {
		t.Errorf("unexpected exhaustion: exceeded=%q skipped=%d", b.Exceeded(), b.Skipped())
	}
}
