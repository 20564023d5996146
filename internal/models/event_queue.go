package models

import (
	"container/heap"
	"sync"
	"time"
)

// Scripted steps a simulated delivery goes through.
const (
	EventConfirmOrder      = "ConfirmOrder"
	EventAssignSubject     = "AssignSubject"
	EventPickUpOrder       = "PickUpOrder"
	EventOrderInTransit    = "OrderInTransit"
	EventDeliverOrder      = "DeliverOrder"
	EventCancelOrder       = "CancelOrder"
	EventSendChat          = "SendChat"
	EventNetworkDown       = "NetworkDown"
	EventNetworkUp         = "NetworkUp"
	EventReplayLastMessage = "ReplayLastMessage"
)

// Event is a step scheduled at a point in time.
type Event struct {
	Time time.Time
	Type string
	Data any

	seq uint64
}

// EventQueue is a time-ordered priority queue. Events due at the same instant
// come out in the order they were enqueued.
type EventQueue struct {
	events eventHeap
	next   uint64
	mutex  sync.Mutex
}

type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].Time.Equal(h[j].Time) {
		return h[i].seq < h[j].seq
	}
	return h[i].Time.Before(h[j].Time)
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(*Event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func NewEventQueue() *EventQueue {
	return &EventQueue{events: make(eventHeap, 0)}
}

func (eq *EventQueue) Enqueue(event *Event) {
	eq.mutex.Lock()
	defer eq.mutex.Unlock()
	event.seq = eq.next
	eq.next++
	heap.Push(&eq.events, event)
}

// Dequeue removes and returns the earliest event, or nil.
func (eq *EventQueue) Dequeue() *Event {
	eq.mutex.Lock()
	defer eq.mutex.Unlock()
	if len(eq.events) == 0 {
		return nil
	}
	return heap.Pop(&eq.events).(*Event)
}

// Peek returns the earliest event without removing it
func (eq *EventQueue) Peek() *Event {
	eq.mutex.Lock()
	defer eq.mutex.Unlock()
	if len(eq.events) == 0 {
		return nil
	}
	return eq.events[0]
}

func (eq *EventQueue) Len() int {
	eq.mutex.Lock()
	defer eq.mutex.Unlock()
	return len(eq.events)
}

// DequeueDue pops every event scheduled at or before now.
func (eq *EventQueue) DequeueDue(now time.Time) []*Event {
	eq.mutex.Lock()
	defer eq.mutex.Unlock()

	var due []*Event
	for len(eq.events) > 0 && !eq.events[0].Time.After(now) {
		due = append(due, heap.Pop(&eq.events).(*Event))
	}
	return due
}
