package tracking

import "github.com/Kwendataxi/kwenda-sub020/internal/models"

type queued struct {
	seq    uint64
	sample models.Sample
}

// outbox is a bounded FIFO of samples waiting to be transmitted. When full,
// the oldest sample is dropped. It is not safe for concurrent use; the
// session guards it.
type outbox struct {
	items []queued
	limit int
	next  uint64
}

func newOutbox(limit int) *outbox {
	if limit < 1 {
		limit = 1
	}
	return &outbox{limit: limit}
}

// push appends s and reports how many samples were dropped to make room.
func (o *outbox) push(s models.Sample) int {
	dropped := 0
	for len(o.items) >= o.limit {
		o.items = o.items[1:]
		dropped++
	}
	o.items = append(o.items, queued{seq: o.next, sample: s})
	o.next++
	return dropped
}

func (o *outbox) front() (queued, bool) {
	if len(o.items) == 0 {
		return queued{}, false
	}
	return o.items[0], true
}

// ack removes the head if it is still the sample with seq. A head dropped on
// overflow while in flight is left alone.
func (o *outbox) ack(seq uint64) {
	if len(o.items) > 0 && o.items[0].seq == seq {
		o.items = o.items[1:]
	}
}

func (o *outbox) len() int { return len(o.items) }

func (o *outbox) occupancy() float64 {
	return float64(len(o.items)) / float64(o.limit)
}

// clear empties the outbox and returns how many samples were discarded.
func (o *outbox) clear() int {
	n := len(o.items)
	o.items = nil
	return n
}
