// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package supervisor

import (
	"context"
	"testing"
	"time"
)

func TestServiceFuncDelegatesAndStringsByName(t *testing.T) {
	called := make(chan struct{}, 1)
	svc := ServiceFunc{
		Name: "test-service",
		Run: func(ctx context.Context) error {
			called <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		},
	}

	if svc.String() != "test-service" {
		t.Fatalf("String() = %q, want %q", svc.String(), "test-service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("Run was never invoked")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after cancellation")
	}
}
