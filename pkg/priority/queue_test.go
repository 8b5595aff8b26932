package priority

import (
	"testing"
	"time"
)

func TestHighLaneWins(t *testing.T) {
	q := New(4, 4, 3)
	if !q.TryPushLow("low") {
		t.Fatal("low push failed")
	}
	if !q.TryPushHigh("high") {
		t.Fatal("high push failed")
	}

	f, ok := q.Pop(nil)
	if !ok || f != "high" {
		t.Fatalf("expected high frame first, got %v", f)
	}
	f, ok = q.Pop(nil)
	if !ok || f != "low" {
		t.Fatalf("expected low frame second, got %v", f)
	}
}

func TestPopReturnsWhenDoneCloses(t *testing.T) {
	q := New(4, 4, 3)
	done := make(chan struct{})

	result := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(done)
		result <- ok
	}()

	close(done)
	select {
	case ok := <-result:
		if ok {
			t.Fatal("expected ok=false after done closed")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after done closed")
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New(4, 4, 3)
	done := make(chan struct{})
	defer close(done)

	result := make(chan any, 1)
	go func() {
		f, _ := q.Pop(done)
		result <- f
	}()

	time.Sleep(10 * time.Millisecond)
	if !q.TryPushLow("late") {
		t.Fatal("push failed")
	}
	select {
	case f := <-result:
		if f != "late" {
			t.Fatalf("expected pushed frame, got %v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not see pushed frame")
	}
}

func TestStatsTrackLanes(t *testing.T) {
	q := New(4, 4, 3)
	q.TryPushHigh("a")
	q.TryPushLow("b")
	q.Pop(nil)
	q.Pop(nil)

	st := q.Stats()
	if st.HighPush != 1 || st.LowPush != 1 || st.HighPop != 1 || st.LowPop != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}
