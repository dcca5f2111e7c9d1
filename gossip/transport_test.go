package gossip

import (
	"testing"
	"time"

	"github.com/rensa-labs/rensa/types"
)

func TestTCPTransportDeliversBroadcastMessage(t *testing.T) {
	a, err := NewTCPTransport("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("NewTCPTransport a: %v", err)
	}
	defer a.Close()

	b, err := NewTCPTransport("127.0.0.1:0", []string{a.listener.Addr().String()})
	if err != nil {
		t.Fatalf("NewTCPTransport b: %v", err)
	}
	defer b.Close()

	// Give b's background dial time to establish the connection a will
	// broadcast over.
	deadline := time.Now().Add(2 * time.Second)
	for a.ConnCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if a.ConnCount() == 0 {
		t.Fatal("expected b to connect to a within the deadline")
	}

	sent := BlockMessage(&types.Block{Height: 7})
	if err := a.Broadcast(sent); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	select {
	case got := <-b.Messages():
		if got.Kind != KindBlock || got.Block == nil || got.Block.Height != 7 {
			t.Fatalf("unexpected message received: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast message to arrive")
	}
}

func TestTCPTransportBroadcastAfterCloseErrors(t *testing.T) {
	a, err := NewTCPTransport("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("NewTCPTransport: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Broadcast(BlockMessage(&types.Block{})); err != ErrTransportClosed {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
}
