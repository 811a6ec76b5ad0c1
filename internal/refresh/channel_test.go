package refresh

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialChannel starts a channel and connects one websocket client to it.
func dialChannel(t *testing.T) (*Channel, *websocket.Conn) {
	t.Helper()

	ch := NewChannel()
	addr, err := ch.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(ch.Close)

	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })

	// Wait for the server side to register the client.
	deadline := time.Now().Add(2 * time.Second)
	for ch.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return ch, conn
}

func TestStartReturnsDialableAddress(t *testing.T) {
	ch := NewChannel()
	addr, err := ch.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Close()

	if !strings.HasPrefix(addr, "ws://127.0.0.1:") {
		t.Errorf("address = %q, want ws://127.0.0.1:<port>", addr)
	}

	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
}

func TestStartTwiceFails(t *testing.T) {
	ch := NewChannel()
	if _, err := ch.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer ch.Close()

	if _, err := ch.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start err = %v, want ErrAlreadyStarted", err)
	}
}

func TestStartAfterCloseFails(t *testing.T) {
	ch := NewChannel()
	ch.Close()
	if _, err := ch.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close err = %v, want ErrClosed", err)
	}
}

func TestSendDeliversPayload(t *testing.T) {
	ch, conn := dialChannel(t)

	ch.Send(PayloadWait)
	ch.Send(PayloadReload)

	for _, want := range []string{"Wait", "Reload"} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		if string(msg) != want {
			t.Errorf("payload = %q, want %q", msg, want)
		}
	}
}

func TestSendWithNoClientsDoesNotBlock(t *testing.T) {
	ch := NewChannel()
	if _, err := ch.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ch.Close()

	done := make(chan struct{})
	go func() {
		ch.Send(PayloadReload)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked with no clients connected")
	}
}

func TestSendBeforeStartIsNoop(t *testing.T) {
	ch := NewChannel()
	ch.Send(PayloadWait) // must not panic or block
	ch.Close()
}

func TestCloseIsIdempotent(t *testing.T) {
	ch, _ := dialChannel(t)
	ch.Close()
	ch.Close()

	if got := ch.ClientCount(); got != 0 {
		t.Errorf("ClientCount after Close = %d, want 0", got)
	}
}

func TestCloseNeverStarted(t *testing.T) {
	ch := NewChannel()
	ch.Close() // must not panic
}

func TestBurstSendsNeverBlock(t *testing.T) {
	ch, conn := dialChannel(t)
	_ = conn // never read from

	// A client that stops draining must never block the sender. Whether it
	// gets disconnected depends on socket buffering; the contract is only
	// that Send returns.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			ch.Send(PayloadReload)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Send blocked on slow client")
	}
}
