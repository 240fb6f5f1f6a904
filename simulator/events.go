package simulator

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/unixpickle/essentials"
)

// ErrDeadlock is returned by EventLoop.Run when every
// Goroutine is polling and no timers remain.
//
// For a group of simulated ranks, this is how a protocol
// that waits on a message nobody will send shows up.
var ErrDeadlock = errors.New("deadlock: all Handles are polling")

// An EventStream is a uni-directional channel of events
// that are passed through an EventLoop.
//
// It is only safe to use an EventStream on one EventLoop
// at once.
type EventStream struct {
	loop    *EventLoop
	pending []any
}

func (s *EventStream) pop() *Event {
	msg := s.pending[0]
	essentials.OrderedDelete(&s.pending, 0)
	return &Event{Message: msg, Stream: s}
}

// An Event is a message received on some EventStream.
type Event struct {
	Message any
	Stream  *EventStream
}

// A Timer is a single delivery that will happen at some
// point in the (virtual) future.
type Timer struct {
	time  float64
	event *Event

	// Timers with equal deadlines fire in the order of
	// their tie-breakers, which are random.
	tieBreak int64

	// Position in the loop's queue, or -1 once the timer
	// has fired or been cancelled.
	index int
}

// Time gets the time when the timer will be fired.
//
// If the virtual time is lower than a timer's Time(),
// then it is guaranteed that the timer has not fired.
func (t *Timer) Time() float64 {
	return t.time
}

// A Handle is a Goroutine's mechanism for accessing an
// EventLoop. Goroutines should not share Handles.
type Handle struct {
	*EventLoop

	// Set while the Goroutine is blocked in Poll.
	pollStreams []*EventStream
	pollChan    chan<- *Event
}

// Poll waits for the next event from a set of streams.
//
// Events that were delivered before the call are
// returned immediately, favoring earlier streams.
func (h *Handle) Poll(streams ...*EventStream) *Event {
	ch := make(chan *Event, 1)
	h.modifyHandles(func() {
		if h.pollStreams != nil {
			panic("Handle is shared between Goroutines")
		}
		if event := popPending(streams); event != nil {
			ch <- event
			return
		}
		h.pollStreams = streams
		h.pollChan = ch
		h.busy--
	})
	return <-ch
}

// TryPoll returns an event that has already been
// delivered to one of the streams, without waiting.
//
// The second return value is false if no event was
// available at the current virtual time.
func (h *Handle) TryPoll(streams ...*EventStream) (*Event, bool) {
	var event *Event
	h.modify(func() {
		event = popPending(streams)
	})
	return event, event != nil
}

func popPending(streams []*EventStream) *Event {
	for _, stream := range streams {
		if len(stream.pending) > 0 {
			return stream.pop()
		}
	}
	return nil
}

// Schedule creates a Timer that delivers msg to stream
// after delay units of virtual time.
func (h *Handle) Schedule(stream *EventStream, msg any, delay float64) *Timer {
	if stream.loop != h.EventLoop {
		panic("EventStream is not associated with the correct EventLoop")
	}
	var timer *Timer
	h.modify(func() {
		timer = &Timer{
			time:     h.time + delay,
			event:    &Event{Message: msg, Stream: stream},
			tieBreak: rand.Int63(),
		}
		if math.IsInf(timer.time, 0) || math.IsNaN(timer.time) {
			panic(fmt.Sprintf("invalid deadline: %f", timer.time))
		}
		heap.Push(&h.timers, timer)
	})
	return timer
}

// Cancel stops a timer if the timer is scheduled.
//
// If the timer already fired, this has no effect.
func (h *Handle) Cancel(t *Timer) {
	h.modify(func() {
		if t.index >= 0 && t.index < len(h.timers) && h.timers[t.index] == t {
			heap.Remove(&h.timers, t.index)
		}
	})
}

// Sleep waits for a certain amount of virtual time to
// elapse.
func (h *Handle) Sleep(delay float64) {
	stream := h.Stream()
	h.Schedule(stream, nil, delay)
	h.Poll(stream)
}

// An EventLoop is a global scheduler for events in a
// simulated distributed system.
//
// All Goroutines which access an EventLoop should be
// started using the EventLoop.Go() method.
//
// Virtual time only advances while every Goroutine is
// blocked in Poll.
// This way, simulated ranks don't have to worry about
// real timing while packing buffers or building
// communication plans.
type EventLoop struct {
	lock    sync.Mutex
	timers  timerQueue
	handles []*Handle

	// Number of handles doing real-time work.
	busy int

	time float64

	running  bool
	notifyCh chan struct{}
}

// NewEventLoop creates an event loop.
//
// The event loop's clock starts at 0.
func NewEventLoop() *EventLoop {
	return &EventLoop{notifyCh: make(chan struct{}, 1)}
}

// Stream creates a new EventStream.
func (e *EventLoop) Stream() *EventStream {
	return &EventStream{loop: e}
}

// Go runs a function in a Goroutine and passes it a new
// handle to the EventLoop.
func (e *EventLoop) Go(f func(h *Handle)) {
	h := &Handle{EventLoop: e}
	e.modify(func() {
		e.handles = append(e.handles, h)
		e.busy++
	})
	go func() {
		defer e.modifyHandles(func() {
			e.busy--
			for i, handle := range e.handles {
				if handle == h {
					essentials.UnorderedDelete(&e.handles, i)
					return
				}
			}
			panic("cannot free handle that does not exist")
		})
		f(h)
	}()
}

// Run runs the loop and blocks until all handles have
// been closed.
//
// It is not safe to run the loop from more than one
// Goroutine at once.
//
// Returns ErrDeadlock if there is a deadlock.
func (e *EventLoop) Run() error {
	e.modify(func() {
		if e.running {
			panic("EventLoop is already running.")
		}
		e.running = true
	})
	defer e.modify(func() {
		e.running = false
	})

	for range e.notifyCh {
		if shouldContinue, err := e.step(); !shouldContinue {
			return err
		}
	}

	panic("unreachable")
}

// Time gets the current virtual time.
func (e *EventLoop) Time() float64 {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.time
}

// modify calls f with the loop locked.
//
// f must not change which handles are polling.
// If it does, use modifyHandles.
func (e *EventLoop) modify(f func()) {
	e.lock.Lock()
	defer e.lock.Unlock()
	f()
}

// modifyHandles is like modify(), but it wakes up Run so
// that the loop can react to scheduling changes.
func (e *EventLoop) modifyHandles(f func()) {
	e.lock.Lock()
	defer func() {
		e.lock.Unlock()
		select {
		case e.notifyCh <- struct{}{}:
		default:
		}
	}()
	f()
}

// step fires timers until one of them wakes up a
// Goroutine.
//
// The first return value is false once the loop can no
// longer run, and the error is set if that is because of
// a deadlock.
func (e *EventLoop) step() (bool, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if len(e.handles) == 0 {
		return false, nil
	} else if e.busy > 0 {
		return true, nil
	}

	for e.timers.Len() > 0 {
		timer := heap.Pop(&e.timers).(*Timer)
		e.time = math.Max(e.time, timer.time)
		if e.deliver(timer.event) {
			return true, nil
		}
	}

	return false, ErrDeadlock
}

// deliver hands an event to a Goroutine polling on its
// stream, or queues it on the stream if none is.
//
// It returns true if a Goroutine was woken up.
func (e *EventLoop) deliver(event *Event) bool {
	// Receivers sharing a stream are picked at random.
	for _, i := range rand.Perm(len(e.handles)) {
		h := e.handles[i]
		for _, stream := range h.pollStreams {
			if stream == event.Stream {
				h.pollChan <- event
				h.pollChan = nil
				h.pollStreams = nil
				e.busy++
				return true
			}
		}
	}
	event.Stream.pending = append(event.Stream.pending, event.Message)
	return false
}

// timerQueue is a min-heap of timers ordered by deadline.
type timerQueue []*Timer

func (t timerQueue) Len() int {
	return len(t)
}

func (t timerQueue) Less(i, j int) bool {
	if t[i].time != t[j].time {
		return t[i].time < t[j].time
	}
	return t[i].tieBreak < t[j].tieBreak
}

func (t timerQueue) Swap(i, j int) {
	t[i], t[j] = t[j], t[i]
	t[i].index = i
	t[j].index = j
}

func (t *timerQueue) Push(x any) {
	timer := x.(*Timer)
	timer.index = len(*t)
	*t = append(*t, timer)
}

func (t *timerQueue) Pop() any {
	old := *t
	timer := old[len(old)-1]
	old[len(old)-1] = nil
	*t = old[:len(old)-1]
	timer.index = -1
	return timer
}
