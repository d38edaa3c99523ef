package frame

import (
	"reflect"
	"testing"
)

func TestScheduleSupersedesPendingTask(t *testing.T) {
	s := NewScheduler()
	var ran []string
	s.Schedule("outline", func() { ran = append(ran, "first") })
	s.Schedule("registry", func() { ran = append(ran, "registry") })
	s.Schedule("outline", func() { ran = append(ran, "second") })

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if n := s.Flush(); n != 2 {
		t.Fatalf("Flush() = %d, want 2", n)
	}
	want := []string{"second", "registry"}
	if !reflect.DeepEqual(ran, want) {
		t.Fatalf("ran = %v, want %v", ran, want)
	}
	if s.Pending("outline") {
		t.Fatal("expected queue to be empty after flush")
	}
}

func TestTasksScheduledDuringFlushWaitForNextFrame(t *testing.T) {
	s := NewScheduler()
	count := 0
	s.Schedule("a", func() {
		count++
		s.Schedule("a", func() { count += 10 })
	})

	s.Flush()
	if count != 1 {
		t.Fatalf("count = %d after first flush, want 1", count)
	}
	if !s.Pending("a") {
		t.Fatal("expected rescheduled task to be pending")
	}
	s.Flush()
	if count != 11 {
		t.Fatalf("count = %d after second flush, want 11", count)
	}
}

func TestCancel(t *testing.T) {
	s := NewScheduler()
	ran := false
	s.Schedule("a", func() { ran = true })
	if !s.Cancel("a") {
		t.Fatal("expected Cancel to report a pending task")
	}
	if s.Cancel("a") {
		t.Fatal("expected second Cancel to be a no-op")
	}
	if n := s.Flush(); n != 0 || ran {
		t.Fatalf("Flush() = %d ran=%t, want 0 false", n, ran)
	}
}
