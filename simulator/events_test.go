package simulator

import (
	"fmt"
	"testing"
	"time"
)

func ExampleEventLoop() {
	loop := NewEventLoop()
	stream := loop.Stream()
	loop.Go(func(h *Handle) {
		event := h.Poll(stream)
		fmt.Println(event.Message, h.Time())
	})
	loop.Go(func(h *Handle) {
		h.Sleep(0.5)
		h.Schedule(stream, "halo exchange done", 15)
	})
	loop.Run()
	// Output: halo exchange done 15.5
}

// TestEventLoopRanksSleep checks that the clock ends at
// the slowest Goroutine's local work, as it does when
// simulated ranks charge different flop times.
func TestEventLoopRanksSleep(t *testing.T) {
	loop := NewEventLoop()
	finish := make([]float64, 4)
	for i := range finish {
		rank := i
		loop.Go(func(h *Handle) {
			for j := 0; j <= rank; j++ {
				h.Sleep(1.5)
			}
			finish[rank] = h.Time()
		})
	}
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	for rank, actual := range finish {
		if expected := 1.5 * float64(rank+1); actual != expected {
			t.Errorf("rank %d: expected to finish at %f but got %f", rank, expected, actual)
		}
	}
	if loop.Time() != 6 {
		t.Errorf("time should be 6 but is %f", loop.Time())
	}
}

// TestEventLoopDeadlineOrder makes sure that timers fire
// by deadline regardless of the order they were created.
func TestEventLoopDeadlineOrder(t *testing.T) {
	loop := NewEventLoop()
	stream := loop.Stream()
	deadlines := []float64{7, 2, 9, 1, 4, 4.5, 3, 8}
	received := make([]float64, 0, len(deadlines))
	loop.Go(func(h *Handle) {
		for range deadlines {
			h.Poll(stream)
			received = append(received, h.Time())
		}
	})
	loop.Go(func(h *Handle) {
		for _, d := range deadlines {
			h.Schedule(stream, d, d)
		}
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(received); i++ {
		if received[i] < received[i-1] {
			t.Fatalf("out of order: %v", received)
		}
	}
	if len(received) != len(deadlines) || received[len(received)-1] != 9 {
		t.Errorf("unexpected deliveries: %v", received)
	}
}

// TestEventLoopSimultaneous makes sure that timers with
// equal deadlines are not fired in a fixed order.
func TestEventLoopSimultaneous(t *testing.T) {
	seen := map[[3]int]bool{}
	for i := 0; i < 1000 && len(seen) < 6; i++ {
		loop := NewEventLoop()
		stream := loop.Stream()
		var order [3]int
		loop.Go(func(h *Handle) {
			for j := range order {
				order[j] = h.Poll(stream).Message.(int)
			}
		})
		loop.Go(func(h *Handle) {
			for j := 0; j < 3; j++ {
				h.Schedule(stream, j, 2.0)
			}
		})
		if err := loop.Run(); err != nil {
			t.Fatal(err)
		}
		seen[order] = true
	}
	if len(seen) != 6 {
		t.Errorf("expected 6 possible orderings but saw %d", len(seen))
	}
}

// TestEventLoopMultiConsumer tests that Goroutines which
// poll the same stream each receive one message.
func TestEventLoopMultiConsumer(t *testing.T) {
	orderings := map[[3]int]bool{}
	for i := 0; i < 1000 && len(orderings) < 6; i++ {
		loop := NewEventLoop()
		stream := loop.Stream()
		var ordering [3]int
		for j := 0; j < 3; j++ {
			idx := j
			loop.Go(func(h *Handle) {
				ordering[idx] = h.Poll(stream).Message.(int)
			})
		}
		loop.Go(func(h *Handle) {
			for j := 1; j <= 3; j++ {
				h.Schedule(stream, j, float64(j))
			}
		})
		if err := loop.Run(); err != nil {
			t.Fatal(err)
		}
		if loop.Time() != 3 {
			t.Errorf("time should be 3.0 but got %f", loop.Time())
		}
		orderings[ordering] = true
	}
	if len(orderings) != 6 {
		t.Errorf("expected 6 possible orderings but saw %d", len(orderings))
	}
}

// TestEventLoopCancel makes sure that cancelled timers
// never fire, and that cancelling a fired timer is
// harmless.
func TestEventLoopCancel(t *testing.T) {
	loop := NewEventLoop()
	stream := loop.Stream()
	var got []int
	loop.Go(func(h *Handle) {
		first := h.Schedule(stream, 1, 1.0)
		second := h.Schedule(stream, 2, 2.0)
		third := h.Schedule(stream, 3, 3.0)
		h.Schedule(stream, 4, 4.0)
		h.Cancel(second)
		got = append(got, h.Poll(stream).Message.(int))
		h.Cancel(first)
		h.Cancel(third)
		h.Cancel(third)
		got = append(got, h.Poll(stream).Message.(int))
	})
	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 4 {
		t.Errorf("unexpected messages: %v", got)
	}
	if loop.Time() != 4 {
		t.Errorf("time should be 4 but got %f", loop.Time())
	}
}

// TestEventLoopBuffering tests that messages sent to an
// EventStream will be queued if no Goroutine is currently
// polling on the stream.
func TestEventLoopBuffering(t *testing.T) {
	loop := NewEventLoop()

	readFirst := loop.Stream()
	readSecond := loop.Stream()
	neverRead := loop.Stream()

	value := make(chan any, 1)

	loop.Go(func(h *Handle) {
		h.Poll(readFirst)
		value <- h.Poll(readSecond).Message
	})

	loop.Go(func(h *Handle) {
		h.Schedule(readSecond, 1337, 3.0)
		h.Sleep(2)
		h.Schedule(neverRead, 321, 4.0)
		h.Schedule(readFirst, 123, 7.0)
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if loop.Time() != 9.0 {
		t.Errorf("time should be 9.0 but got %f", loop.Time())
	}
	if val := <-value; val != 1337 {
		t.Errorf("expected 1337 but got %v", val)
	}
}

// TestEventLoopPollMulti tests polling multiple streams
// at once, with real time playing no part in ordering.
func TestEventLoopPollMulti(t *testing.T) {
	loop := NewEventLoop()

	first := loop.Stream()
	second := loop.Stream()
	third := loop.Stream()

	values := make(chan any, 3)

	loop.Go(func(h *Handle) {
		for _, stream := range []*EventStream{first, second, third} {
			event := h.Poll(third, second, first)
			if event.Stream != stream {
				t.Error("incorrect stream order")
			}
			values <- event.Message
		}
	})

	loop.Go(func(h *Handle) {
		h.Schedule(first, 133, 3.0)
		h.Sleep(3.5)
		h.Schedule(third, 333, 7.0)
		time.Sleep(time.Second / 4)
		h.Schedule(second, 233, 1.0)
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	if loop.Time() != 10.5 {
		t.Errorf("time should be 10.5 but got %f", loop.Time())
	}
	for _, expected := range []int{133, 233, 333} {
		if val := <-values; val != expected {
			t.Errorf("expected %d but got %v", expected, val)
		}
	}
}

// TestEventLoopDeadlocks makes sure that two ranks
// waiting on each other are reported.
func TestEventLoopDeadlocks(t *testing.T) {
	loop := NewEventLoop()

	stream1 := loop.Stream()
	stream2 := loop.Stream()

	loop.Go(func(h *Handle) {
		h.Poll(stream1)
		h.Schedule(stream2, 1337, 0.0)
	})

	loop.Go(func(h *Handle) {
		time.Sleep(time.Second / 4)
		h.Poll(stream2)
		h.Schedule(stream1, 1337, 0.0)
	})

	if err := loop.Run(); err != ErrDeadlock {
		t.Errorf("expected deadlock error but got %v", err)
	}
}

// TestEventLoopTryPoll makes sure that TryPoll only
// returns events which have already been delivered.
func TestEventLoopTryPoll(t *testing.T) {
	loop := NewEventLoop()

	stream := loop.Stream()
	wakeup := loop.Stream()

	results := make(chan string, 3)
	loop.Go(func(h *Handle) {
		if _, ok := h.TryPoll(stream); ok {
			results <- "unexpected event before delivery"
		}
		h.Poll(wakeup)
		if event, ok := h.TryPoll(stream); !ok {
			results <- "expected pending event"
		} else if event.Message != 42 || event.Stream != stream {
			results <- fmt.Sprintf("unexpected event: %v", event.Message)
		}
		if _, ok := h.TryPoll(stream); ok {
			results <- "event was delivered twice"
		}
	})

	loop.Go(func(h *Handle) {
		h.Schedule(stream, 42, 1.0)
		h.Schedule(wakeup, nil, 2.0)
	})

	if err := loop.Run(); err != nil {
		t.Fatal(err)
	}
	close(results)
	for msg := range results {
		t.Error(msg)
	}
}
