package models

import (
	"testing"
	"time"
)

func TestEventQueueOrdersByTimeThenInsertion(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q := NewEventQueue()
	q.Enqueue(&Event{Time: base.Add(2 * time.Second), Type: EventPickUpOrder})
	q.Enqueue(&Event{Time: base, Type: EventConfirmOrder})
	q.Enqueue(&Event{Time: base, Type: EventAssignSubject})

	if q.Peek().Type != EventConfirmOrder {
		t.Fatalf("peek = %s", q.Peek().Type)
	}

	due := q.DequeueDue(base.Add(time.Second))
	if len(due) != 2 || due[0].Type != EventConfirmOrder || due[1].Type != EventAssignSubject {
		t.Fatalf("unexpected due events: %+v", due)
	}
	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
	if e := q.Dequeue(); e == nil || e.Type != EventPickUpOrder {
		t.Fatalf("dequeue = %+v", e)
	}
	if q.Dequeue() != nil {
		t.Fatal("expected empty queue")
	}
}
