package txflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/native/chains"
)

func TestSimulatedRelay(t *testing.T) {
	relay := NewSimulatedRelay(5 * time.Millisecond)
	first, err := relay.Dispatch(context.Background(), Call{}, chains.Base)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	second, err := relay.Dispatch(context.Background(), Call{}, chains.Base)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if first == second || first == (common.Hash{}) {
		t.Fatalf("expected distinct random ids, got %s and %s", first.Hex(), second.Hex())
	}

	conf, err := relay.AwaitDelivery(context.Background(), first)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if !conf.Success || conf.Hash != first {
		t.Fatalf("unexpected confirmation %+v", conf)
	}
	if _, err := relay.AwaitDelivery(context.Background(), first); err == nil {
		t.Fatalf("delivered ids must not confirm twice")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := relay.AwaitDelivery(ctx, second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestSimulatedRelayDefaultDelay(t *testing.T) {
	if relay := NewSimulatedRelay(0); relay.Delay != DefaultRelayDelay {
		t.Fatalf("default delay = %s", relay.Delay)
	}
}
