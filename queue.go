package mqttcore

import (
	"slices"
	"time"
)

// maxPacketID is the number of usable packet identifiers (1-65535).
const maxPacketID = 65535

// queue is the ordered list of in-flight messages of one connection, with
// an identifier index. It is guarded by the client lock.
type queue struct {
	items []*message
	byID  map[uint16]*message
	next  uint16
	limit int

	// recent remembers identifiers of messages completed within
	// recentTTL so late duplicate acknowledgements can be told apart
	// from unmatched ones.
	recent    map[uint16]recentAck
	recentTTL time.Duration
}

type recentAck struct {
	ptype PacketType
	at    time.Time
}

func newQueue(limit int, recentTTL time.Duration) *queue {
	return &queue{
		byID:      make(map[uint16]*message),
		recent:    make(map[uint16]recentAck),
		limit:     limit,
		recentTTL: recentTTL,
	}
}

// full reports whether another message may be queued.
func (q *queue) full() bool {
	return q.limit > 0 && len(q.items) >= q.limit
}

// len returns the number of queued messages.
func (q *queue) len() int {
	return len(q.items)
}

// allocateID returns the next identifier not used by a queued message.
// Zero is never returned. The scan probes at most every identifier once.
func (q *queue) allocateID() (uint16, error) {
	for range maxPacketID {
		q.next++
		if q.next == 0 {
			q.next = 1
		}
		if _, used := q.byID[q.next]; !used {
			delete(q.recent, q.next)
			return q.next, nil
		}
	}
	return 0, ErrPacketIDExhausted
}

// push appends m to the end of the queue.
func (q *queue) push(m *message) {
	q.items = append(q.items, m)
	if m.id != 0 {
		q.byID[m.id] = m
	}
}

// pushFront inserts m ahead of every queued message.
func (q *queue) pushFront(m *message) {
	q.items = slices.Insert(q.items, 0, m)
	if m.id != 0 {
		q.byID[m.id] = m
	}
}

// remove drops m from the queue and remembers its identifier.
func (q *queue) remove(m *message, now time.Time) {
	if i := slices.Index(q.items, m); i >= 0 {
		q.items = slices.Delete(q.items, i, i+1)
	}

	if m.id != 0 && q.byID[m.id] == m {
		delete(q.byID, m.id)
		q.recent[m.id] = recentAck{ptype: m.ptype, at: now}
	}
}

// lookup returns the queued message with the given identifier.
func (q *queue) lookup(id uint16) *message {
	return q.byID[id]
}

// awaiting returns the oldest message waiting for an acknowledgement of
// type ack. It serves acknowledgements that carry no identifier.
func (q *queue) awaiting(ack PacketType) *message {
	for _, m := range q.items {
		if m.state == stateAwaitingAck && m.awaiting == ack {
			return m
		}
	}
	return nil
}

// wasRecent reports whether id belonged to a message completed recently.
func (q *queue) wasRecent(id uint16, now time.Time) bool {
	r, ok := q.recent[id]
	if !ok {
		return false
	}
	if q.recentTTL > 0 && now.Sub(r.at) > q.recentTTL {
		delete(q.recent, id)
		return false
	}
	return true
}

// snapshot returns a copy of the queue order for iteration while the
// queue may change.
func (q *queue) snapshot() []*message {
	return slices.Clone(q.items)
}

// drain empties the queue and returns what it held.
func (q *queue) drain() []*message {
	items := q.items
	q.items = nil
	clear(q.byID)
	clear(q.recent)
	return items
}
