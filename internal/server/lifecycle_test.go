package server

import (
	"context"
	"testing"
	"time"

	"OptionLedger/internal/observability"
)

// ============================================================================
// Test: server lifecycle
// ============================================================================

// Shutdown closes listeners before in-flight handlers finish; both Start
// functions must only return once their server is fully drained, because
// the process closes the persistence channel right after they do.
func TestServersReturnDrainedAfterCancel(t *testing.T) {
	srv := NewGRPCServer("127.0.0.1:0", "127.0.0.1:0", &ServerDeps{
		HealthChecker: observability.NewHealthChecker(),
		StartTime:     time.Now(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	httpDone := make(chan error, 1)
	grpcDone := make(chan error, 1)
	go func() { httpDone <- srv.StartHTTP(ctx) }()
	go func() { grpcDone <- srv.StartGRPC(ctx) }()

	// Let both servers bind before asking them to stop.
	time.Sleep(100 * time.Millisecond)
	cancel()

	for name, done := range map[string]chan error{"http": httpDone, "grpc": grpcDone} {
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("%s server returned %v after cancel", name, err)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("%s server did not return after cancel", name)
		}
	}
}
