package event

import (
	"sync"
	"testing"
)

func TestBus_HandlerOrder(t *testing.T) {
	bus := NewBus()

	var got []Type
	bus.Handle(func(ev Event) {
		got = append(got, ev.Type)
	})

	bus.Publish(Event{Type: TaskStarted, TaskID: "t1"})
	bus.Publish(Event{Type: RetryAttempted, TaskID: "t1"})
	bus.Publish(Event{Type: TaskCompleted, TaskID: "t1"})

	want := []Type{TaskStarted, RetryAttempted, TaskCompleted}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe(4)
	defer cancel()

	bus.Publish(Event{Type: CircuitOpened, Key: "github"})

	ev := <-ch
	if ev.Type != CircuitOpened {
		t.Errorf("Type = %v, want %v", ev.Type, CircuitOpened)
	}
	if ev.Key != "github" {
		t.Errorf("Key = %q, want %q", ev.Key, "github")
	}
	if ev.At.IsZero() {
		t.Error("At should be stamped on publish")
	}
}

func TestBus_SubscribeCancel(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe(1)
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}

	// Publishing after cancel must not panic.
	bus.Publish(Event{Type: QueueEmpty})
}

func TestBus_SlowSubscriberDropsOldest(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe(2)
	defer cancel()

	bus.Publish(Event{Type: TaskStarted, TaskID: "a"})
	bus.Publish(Event{Type: TaskStarted, TaskID: "b"})
	bus.Publish(Event{Type: TaskStarted, TaskID: "c"})

	// Oldest event (a) was dropped; b and c remain in order.
	first := <-ch
	if first.TaskID != "b" {
		t.Errorf("first TaskID = %q, want %q", first.TaskID, "b")
	}
	second := <-ch
	if second.TaskID != "c" {
		t.Errorf("second TaskID = %q, want %q", second.TaskID, "c")
	}
}

func TestBus_HandlerMayCallBackIntoBus(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var got []Type
	var ch <-chan Event
	bus.Handle(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
		if ev.Type == TaskStarted {
			var cancel func()
			ch, cancel = bus.Subscribe(4)
			defer cancel()
			bus.Publish(Event{Type: TaskCompleted, TaskID: ev.TaskID})
		}
	})

	bus.Publish(Event{Type: TaskStarted, TaskID: "t1"})

	mu.Lock()
	defer mu.Unlock()
	want := []Type{TaskStarted, TaskCompleted}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	// The subscription made inside the handler saw the nested publish.
	ev := <-ch
	if ev.Type != TaskCompleted {
		t.Errorf("subscriber Type = %v, want %v", ev.Type, TaskCompleted)
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.Handle(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(Event{Type: RetryAttempted})
			}
		}()
	}
	wg.Wait()

	if count != 1000 {
		t.Errorf("handler ran %d times, want 1000", count)
	}
}
