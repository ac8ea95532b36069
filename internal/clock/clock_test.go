package clock

import (
	"testing"
	"time"
)

func TestFakeNowStandsStill(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := Fake(start)

	if !c.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", c.Now(), start)
	}

	c.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !c.Now().Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", c.Now(), want)
	}
}

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	c := Fake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	ch := c.After(time.Minute)
	select {
	case <-ch:
		t.Fatal("After fired before the clock advanced")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}
	if c.Waiters() != 1 {
		t.Errorf("Waiters() = %d, want 1", c.Waiters())
	}

	c.Advance(30 * time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire at its deadline")
	}
	if c.Waiters() != 0 {
		t.Errorf("Waiters() = %d, want 0", c.Waiters())
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	c := Fake(time.Now())
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
}
