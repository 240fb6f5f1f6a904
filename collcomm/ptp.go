package collcomm

import "fmt"

// A Request tracks a non-blocking operation.
type Request struct {
	done bool

	// progress advances multi-step operations, such as a
	// barrier, and reports whether they are finished.
	progress func() bool
}

func (r *Request) check() bool {
	if !r.done && r.progress != nil && r.progress() {
		r.done = true
	}
	return r.done
}

// Status describes a matched or probed message.
type Status struct {
	// Source is the sender's rank in the Comm.
	Source int
	Tag    int

	// Count is the number of elements for slice payloads,
	// or 1 for other payloads.
	Count int
}

func (c *Comm) key(source, tag int) matchKey {
	if source != AnySource {
		source = c.ranks[source]
	}
	return matchKey{context: c.context, epoch: c.epoch, source: source, tag: tag}
}

func (c *Comm) status(env *envelope) Status {
	src := -1
	for i, r := range c.ranks {
		if r == env.source {
			src = i
			break
		}
	}
	return Status{Source: src, Tag: env.tag, Count: payloadLen(env.payload)}
}

func (c *Comm) envelope(tag int, payload any) *envelope {
	return &envelope{
		context: c.context,
		epoch:   c.epoch,
		tag:     tag,
		payload: clonePayload(payload),
	}
}

// Isend starts a buffered send.
// The returned Request is already complete, since the
// payload is copied before Isend returns.
func (c *Comm) Isend(dest, tag int, payload any) *Request {
	c.ep.post(c.ranks[dest], c.envelope(tag, payload))
	return &Request{done: true}
}

// Issend starts a synchronous send.
// The returned Request completes once the destination
// has matched the message with a receive.
func (c *Comm) Issend(dest, tag int, payload any) *Request {
	env := c.envelope(tag, payload)
	env.sync = true
	env.id = c.ep.nextID
	c.ep.nextID++

	req := &Request{}
	c.ep.waiting[env.id] = req
	c.ep.post(c.ranks[dest], env)
	return req
}

// Send sends a message without waiting for it to be
// received.
func (c *Comm) Send(dest, tag int, payload any) {
	c.Isend(dest, tag, payload)
}

// Recv waits for a message from source (or AnySource)
// with the given tag.
func (c *Comm) Recv(source, tag int) (any, Status) {
	key := c.key(source, tag)
	var env *envelope
	c.ep.await(func() bool {
		env = c.ep.find(key, true)
		return env != nil
	})
	return env.payload, c.status(env)
}

// RecvSlice is like Comm.Recv, but it checks the payload
// type.
// A nil payload is returned as an empty slice.
func RecvSlice[T any](c *Comm, source, tag int) ([]T, Status) {
	payload, status := c.Recv(source, tag)
	if payload == nil {
		return nil, status
	}
	res, ok := payload.([]T)
	if !ok {
		panic(fmt.Sprintf("tag %d: unexpected payload type %T", tag, payload))
	}
	return res, status
}

// RecvInts receives a []int payload.
func (c *Comm) RecvInts(source, tag int) ([]int, Status) {
	return RecvSlice[int](c, source, tag)
}

// RecvFloats receives a []float64 payload.
func (c *Comm) RecvFloats(source, tag int) ([]float64, Status) {
	return RecvSlice[float64](c, source, tag)
}

// Probe waits until a matching message is available,
// without receiving it.
func (c *Comm) Probe(source, tag int) Status {
	key := c.key(source, tag)
	var env *envelope
	c.ep.await(func() bool {
		env = c.ep.find(key, false)
		return env != nil
	})
	return c.status(env)
}

// Iprobe checks for a matching message without blocking.
func (c *Comm) Iprobe(source, tag int) (Status, bool) {
	c.ep.poll()
	env := c.ep.find(c.key(source, tag), false)
	if env == nil {
		return Status{}, false
	}
	return c.status(env), true
}

// Test checks if a Request has completed, without
// blocking.
func (c *Comm) Test(r *Request) bool {
	c.ep.poll()
	return r.check()
}

// Wait blocks until all of the Requests have completed.
func (c *Comm) Wait(reqs ...*Request) {
	for _, r := range reqs {
		c.ep.await(r.check)
	}
}
