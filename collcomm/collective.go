package collcomm

import "github.com/unixpickle/essentials"

// Ibarrier starts a dissemination barrier.
//
// The Request completes once every process in the Comm
// has entered the barrier.
// In round k, each process signals the process 2^k ranks
// ahead of it and waits for the one 2^k ranks behind it.
func (c *Comm) Ibarrier() *Request {
	n := c.Size()
	epoch := c.epoch
	round := 0
	sent := false
	req := &Request{}
	req.progress = func() bool {
		for (1 << round) < n {
			dist := 1 << round
			tag := tagBarrier - round
			if !sent {
				env := c.envelope(tag, nil)
				env.epoch = epoch
				c.ep.post(c.ranks[(c.rank+dist)%n], env)
				sent = true
			}
			key := c.key((c.rank-dist+n)%n, tag)
			key.epoch = epoch
			if c.ep.find(key, true) == nil {
				return false
			}
			round++
			sent = false
		}
		return true
	}
	req.check()
	return req
}

// Barrier blocks until every process in the Comm has
// called Barrier.
func (c *Comm) Barrier() {
	c.Wait(c.Ibarrier())
}

// Allgather collects one value from every process.
// The result is indexed by rank.
func Allgather[T any](c *Comm, value T) []T {
	for i := 0; i < c.Size(); i++ {
		if i != c.rank {
			c.Isend(i, tagAllgather, []T{value})
		}
	}
	res := make([]T, c.Size())
	for i := range res {
		if i == c.rank {
			res[i] = value
			continue
		}
		vals, _ := RecvSlice[T](c, i, tagAllgather)
		res[i] = vals[0]
	}
	return res
}

// Allgatherv concatenates variable-length slices from
// every process in rank order.
//
// The slice from rank i is all[offsets[i]:offsets[i+1]].
func Allgatherv[T any](c *Comm, values []T) (all []T, offsets []int) {
	counts := Allgather(c, len(values))
	offsets = make([]int, len(counts)+1)
	for i, count := range counts {
		offsets[i+1] = offsets[i] + count
	}
	for i := 0; i < c.Size(); i++ {
		if i != c.rank {
			c.Isend(i, tagAllgatherv, values)
		}
	}
	all = make([]T, offsets[len(counts)])
	for i := range counts {
		if i == c.rank {
			copy(all[offsets[i]:], values)
			continue
		}
		vals, _ := RecvSlice[T](c, i, tagAllgatherv)
		if len(vals) != counts[i] {
			panic("allgatherv: count mismatch")
		}
		copy(all[offsets[i]:], vals)
	}
	return all, offsets
}

// ExchangeSparse sends payloads[i] to dests[i] and returns
// every payload sent to the current process, without any
// process knowing in advance who will send to it.
//
// Sends are synchronous; while they are outstanding the
// process receives incoming payloads, and once they are
// all matched it enters a non-blocking barrier and keeps
// receiving until the barrier completes.
// When the barrier completes, every payload addressed to
// this process has been matched, so none can be missed.
//
// Every process in the Comm must call ExchangeSparse.
// Results are sorted by source rank; payloads from one
// source keep their send order.
func ExchangeSparse[T any](c *Comm, tag int, dests []int, payloads []T) (sources []int,
	received []T) {
	if len(dests) != len(payloads) {
		panic("mismatching destination and payload counts")
	}

	// Calls with the same tag must not match each other's
	// messages, since a fast process may start the next
	// exchange before a slow one leaves this one.
	c.exchanges++
	c.epoch = c.exchanges
	defer func() {
		c.epoch = 0
	}()

	reqs := make([]*Request, len(dests))
	for i, dest := range dests {
		reqs[i] = c.Issend(dest, tag, payloads[i])
	}

	key := c.key(AnySource, tag)
	drain := func() {
		for {
			env := c.ep.find(key, true)
			if env == nil {
				return
			}
			sources = append(sources, c.status(env).Source)
			if env.payload == nil {
				var zero T
				received = append(received, zero)
			} else {
				received = append(received, env.payload.(T))
			}
		}
	}

	var barrier *Request
	c.ep.await(func() bool {
		drain()
		if barrier == nil {
			for _, req := range reqs {
				if !req.check() {
					return false
				}
			}
			barrier = c.Ibarrier()
		}
		return barrier.check()
	})
	drain()

	order := make([]int, len(sources))
	for i := range order {
		order[i] = i
	}
	essentials.VoodooSort(sources, func(i, j int) bool {
		if sources[i] != sources[j] {
			return sources[i] < sources[j]
		}
		return order[i] < order[j]
	}, received, order)
	return sources, received
}
