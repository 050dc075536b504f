package natsbridge

import (
	"context"
	"sync"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
)

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T, port int) *commsserver.Server {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("natsbridge:helpers_test - failed to create server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("natsbridge:helpers_test - server failed to start")
	}
	return ns
}

func stopTestServer(ns *commsserver.Server) {
	ns.Shutdown()
	ns.WaitForShutdown()
}

// runResponder starts a Responder in the background and waits until it is subscribed.
// The returned channel receives a value on every (re)subscription after the first.
func runResponder(t *testing.T, params Params) (<-chan struct{}, func()) {
	t.Helper()

	serving := make(chan struct{}, 4)
	params.OnServing = func() { serving <- struct{}{} }

	r, err := NewResponder(params)
	if err != nil {
		t.Fatalf("natsbridge:helpers_test - NewResponder failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.Run(ctx); err != nil {
			t.Errorf("natsbridge:helpers_test - Run returned %v", err)
		}
	}()

	select {
	case <-serving:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("natsbridge:helpers_test - responder never subscribed")
	}

	return serving, func() {
		cancel()
		wg.Wait()
	}
}
