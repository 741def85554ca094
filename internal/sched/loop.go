// Package sched provides the single-threaded message-pump and timer glue
// shared by ice.Session and rudp.Channel (component 5 of the design):
// single-threaded event loop dispatch for timers, wake requests, and
// inbound packets. Every state mutation for a session or channel happens
// inside a closure posted to a Loop's mailbox, so handlers for inbound
// packets, timer fires, and STUN-requester callbacks are strictly
// serialized — there are no suspension points within a handler.
package sched

import (
	"container/heap"
	"sync"
	"time"
)

// TimerID identifies a scheduled (possibly recurring) callback. Canceling a
// TimerID marks it as a tombstone rather than removing it from the heap
// immediately: the entry is dropped the next time it would otherwise fire,
// avoiding a heap.Fix/Remove on every cancellation.
type TimerID uint64

type timerEntry struct {
	deadline time.Time
	id       TimerID
	fn       func()
	interval time.Duration // zero for one-shot entries
	canceled bool
}

// timerHeap orders pending entries by deadline; it's the monotonic-time
// priority queue the scheduler maintains.
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(*timerEntry)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Loop is a single-consumer work queue plus the timer heap that feeds it.
// Post/After/Every/Cancel may be called from any goroutine; closures posted
// to the mailbox must assume they run one at a time, without overlap.
type Loop struct {
	mailbox chan func()
	done    chan struct{}
	wake    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	entries map[TimerID]*timerEntry
	heap    timerHeap
	nextID  TimerID
}

// NewLoop creates a Loop with a small mailbox buffer and starts its timer
// driver goroutine.
func NewLoop() *Loop {
	l := &Loop{
		mailbox: make(chan func(), 64),
		done:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		entries: make(map[TimerID]*timerEntry),
	}
	go l.driveTimers()
	return l
}

// Post enqueues fn to run on the loop. It never blocks past Close.
func (l *Loop) Post(fn func()) {
	select {
	case l.mailbox <- fn:
	case <-l.done:
	}
}

// Run drains the mailbox until Close is called. The caller runs this in its
// own goroutine; it is the loop's single consumer.
func (l *Loop) Run() {
	for {
		select {
		case fn := <-l.mailbox:
			fn()
		case <-l.done:
			return
		}
	}
}

// Close stops the loop and its timer driver. Idempotent.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}

// Done reports the loop's shutdown channel, for select statements in
// callers that need to notice Close without going through Post.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// driveTimers is the scheduler's single dispatch goroutine: it sleeps until
// the earliest heap deadline, then pops and posts everything due.
func (l *Loop) driveTimers() {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		d, empty := l.nextDeadline()
		if empty {
			d = time.Hour
		}
		timer.Reset(d)

		select {
		case <-l.done:
			return
		case <-l.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
			l.fireExpired()
		}
	}
}

func (l *Loop) nextDeadline() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.heap) == 0 {
		return 0, true
	}
	d := time.Until(l.heap[0].deadline)
	if d < 0 {
		d = 0
	}
	return d, false
}

func (l *Loop) fireExpired() {
	now := time.Now()
	var due []func()

	l.mu.Lock()
	for len(l.heap) > 0 && !l.heap[0].deadline.After(now) {
		e := heap.Pop(&l.heap).(*timerEntry)
		if e.canceled {
			delete(l.entries, e.id)
			continue
		}
		if e.interval > 0 {
			e.deadline = now.Add(e.interval)
			heap.Push(&l.heap, e)
		} else {
			delete(l.entries, e.id)
		}
		due = append(due, e.fn)
	}
	l.mu.Unlock()

	for _, fn := range due {
		l.Post(fn)
	}
}

// After schedules fn to run on the loop once, after d elapses.
func (l *Loop) After(d time.Duration, fn func()) TimerID {
	return l.schedule(d, 0, fn)
}

// Every schedules fn to run repeatedly on the loop, every d, until
// canceled.
func (l *Loop) Every(d time.Duration, fn func()) TimerID {
	return l.schedule(d, d, fn)
}

func (l *Loop) schedule(d, interval time.Duration, fn func()) TimerID {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	e := &timerEntry{deadline: time.Now().Add(d), id: id, fn: fn, interval: interval}
	heap.Push(&l.heap, e)
	l.entries[id] = e
	isHead := l.heap[0] == e
	l.mu.Unlock()

	if isHead {
		l.signalWake()
	}
	return id
}

func (l *Loop) signalWake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Cancel invalidates a timer. A canceled entry is dropped lazily, the next
// time the heap would have popped it, rather than removed from the heap
// immediately — avoiding heap churn on cancellation-heavy call patterns
// like a connectivity check's retransmit ladder.
func (l *Loop) Cancel(id TimerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[id]; ok {
		e.canceled = true
		delete(l.entries, id)
	}
}
