package queue_test

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/toolflow/dispatch"
	"github.com/jonwraymond/toolflow/endpoint"
	"github.com/jonwraymond/toolflow/queue"
)

func ExampleScheduler() {
	tracker := endpoint.NewTracker(endpoint.Config{})
	d, err := dispatch.New(dispatch.Config{Tracker: tracker})
	if err != nil {
		panic(err)
	}

	done := make(chan string, 1)
	s, err := queue.New(queue.Config{
		Dispatcher: d,
		Handler: func(ctx context.Context, task queue.Task) ([]byte, error) {
			done <- task.ID
			return []byte("sync complete"), nil
		},
	})
	if err != nil {
		panic(err)
	}

	if err := s.Start(context.Background()); err != nil {
		panic(err)
	}
	defer s.Stop()

	id, err := s.Submit(queue.Task{
		ID:       "sync-github",
		Endpoint: "github",
		Priority: 5,
		Policy:   dispatch.Policy{MaxRetries: 2, Timeout: 10 * time.Second},
	})
	if err != nil {
		panic(err)
	}

	fmt.Println("submitted:", id)
	fmt.Println("ran:", <-done)
	// Output:
	// submitted: sync-github
	// ran: sync-github
}

func ExampleExecuteWithDependencies() {
	tracker := endpoint.NewTracker(endpoint.Config{})
	d, err := dispatch.New(dispatch.Config{Tracker: tracker})
	if err != nil {
		panic(err)
	}

	handler := func(ctx context.Context, task queue.Task) ([]byte, error) {
		return []byte(task.ID + " done"), nil
	}

	tasks := []queue.Task{
		{ID: "fetch", Endpoint: "github"},
		{ID: "index", Endpoint: "search", DependsOn: []string{"fetch"}},
	}
	results, err := queue.ExecuteWithDependencies(context.Background(), d, handler, tasks, 4)
	if err != nil {
		panic(err)
	}

	fmt.Println(string(results["fetch"].Payload))
	fmt.Println(string(results["index"].Payload))
	// Output:
	// fetch done
	// index done
}
