package clock

import (
	"testing"
	"time"
)

func TestFakeFiresInOrder(t *testing.T) {
	c := NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	var got []int
	c.AfterFunc(200*time.Millisecond, func() { got = append(got, 2) })
	c.AfterFunc(100*time.Millisecond, func() { got = append(got, 1) })

	c.Advance(150 * time.Millisecond)
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("after 150ms: got %v, want [1]", got)
	}
	c.Advance(50 * time.Millisecond)
	if len(got) != 2 || got[1] != 2 {
		t.Fatalf("after 200ms: got %v, want [1 2]", got)
	}
}

func TestFakeStop(t *testing.T) {
	c := NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Error("first Stop should return true")
	}
	if tm.Stop() {
		t.Error("second Stop should return false")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Errorf("pending: got %d, want 0", c.Pending())
	}
}

func TestFakeRearmDuringAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)
	var ticks []time.Time
	var tick func()
	tick = func() {
		ticks = append(ticks, c.Now())
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(0, tick)

	c.Advance(3 * time.Second)
	if len(ticks) != 4 {
		t.Fatalf("ticks: got %d, want 4", len(ticks))
	}
	for i, ts := range ticks {
		want := start.Add(time.Duration(i) * time.Second)
		if !ts.Equal(want) {
			t.Errorf("tick %d at %v, want %v", i, ts, want)
		}
	}
}
