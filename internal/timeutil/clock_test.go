package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	got := c.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("RealClock.Now() = %v, want between %v and %v", got, before, after)
	}
}

func TestMockClockSetAndAdvance(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	if got := c.Now(); !got.Equal(base) {
		t.Fatalf("Now() = %v, want %v", got, base)
	}

	c.Advance(30 * time.Minute)
	if got := c.Now(); !got.Equal(base.Add(30 * time.Minute)) {
		t.Errorf("after Advance, Now() = %v", got)
	}

	reset := base.Add(2 * time.Hour)
	c.Set(reset)
	if got := c.Now(); !got.Equal(reset) {
		t.Errorf("after Set, Now() = %v, want %v", got, reset)
	}
}

func TestMockClockSince(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := NewMockClock(base)
	c.Advance(5 * time.Minute)

	if got := c.Since(base); got != 5*time.Minute {
		t.Errorf("Since(base) = %v, want 5m", got)
	}
}

func TestMockTickerFiresOnAdvance(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := NewMockClock(base)
	ticker := c.NewTicker(time.Minute)

	select {
	case <-ticker.C():
		t.Fatal("ticker fired before interval elapsed")
	default:
	}

	c.Advance(time.Minute)
	select {
	case got := <-ticker.C():
		if !got.Equal(base.Add(time.Minute)) {
			t.Errorf("tick time = %v", got)
		}
	default:
		t.Fatal("ticker did not fire after Advance past interval")
	}
}

func TestMockTickerStop(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := NewMockClock(base)
	ticker := c.NewTicker(time.Minute)
	ticker.Stop()

	c.Advance(2 * time.Minute)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
