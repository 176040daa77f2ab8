package events

import (
	"testing"

	"github.com/google/uuid"
)

func TestStream_SequentialSeq(t *testing.T) {
	s := NewStream()
	execID := uuid.New()

	s.Publish(Event{Type: TypeStarted, ExecutionID: execID})
	s.Publish(Event{Type: TypeStepStarted, ExecutionID: execID, StepID: "a"})
	s.Publish(Event{Type: TypeStepCompleted, ExecutionID: execID, StepID: "a"})
	s.Publish(Event{Type: TypeCompleted, ExecutionID: execID})
	s.Close()

	var seq int64
	for event := range s.Events() {
		seq++
		if event.Seq != seq {
			t.Errorf("expected seq %d, got %d", seq, event.Seq)
		}
		if event.Timestamp.IsZero() {
			t.Error("timestamp should be set")
		}
	}
	if seq != 4 {
		t.Errorf("expected 4 events, got %d", seq)
	}
}

func TestStream_CloseIdempotent(t *testing.T) {
	s := NewStream()
	s.Close()
	s.Close()

	// Publish после Close не должен паниковать
	s.Publish(Event{Type: TypeStarted})

	if _, open := <-s.Events(); open {
		t.Error("channel should be closed")
	}
}

func TestEvent_IsTerminal(t *testing.T) {
	terminal := []Type{TypeCompleted, TypeFailed, TypeCancelled}
	for _, typ := range terminal {
		if !(Event{Type: typ}).IsTerminal() {
			t.Errorf("%s should be terminal", typ)
		}
	}

	nonTerminal := []Type{TypeStarted, TypeStepStarted, TypeStepCompleted, TypeStepFailed, TypeStepSkipped}
	for _, typ := range nonTerminal {
		if (Event{Type: typ}).IsTerminal() {
			t.Errorf("%s should not be terminal", typ)
		}
	}
}

func TestSinkFunc(t *testing.T) {
	var received []Event
	sink := SinkFunc(func(e Event) error {
		received = append(received, e)
		return nil
	})

	if err := sink.Deliver(Event{Type: TypeStarted}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(received) != 1 {
		t.Errorf("expected 1 event, got %d", len(received))
	}
}
