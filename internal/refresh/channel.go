// Package refresh pushes reload notifications to browser clients over a
// local websocket endpoint.
package refresh

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// The protocol has exactly two opcodes and no further structure. Every
// connected client receives the same broadcast; there is no acknowledgement
// and no sequencing.
var (
	// PayloadReload tells the browser to reload the page now.
	PayloadReload = []byte("Reload")
	// PayloadWait tells the browser a rebuild is in progress and a reload
	// will follow.
	PayloadWait = []byte("Wait")
)

// ErrAlreadyStarted is returned when Start is called twice on one Channel.
var ErrAlreadyStarted = errors.New("refresh channel already started")

// ErrClosed is returned when Start is called after Close.
var ErrClosed = errors.New("refresh channel closed")

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 16),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Channel is the browser-facing side channel. Start it once, Send any number
// of times, Close it when the watch session ends.
type Channel struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	listener net.Listener
	server   *http.Server
	started  bool
	closed   bool
}

func NewChannel() *Channel {
	return &Channel{
		clients: make(map[*client]bool),
	}
}

// Start binds a loopback websocket endpoint on an ephemeral port and returns
// its address in the form ws://127.0.0.1:<port>, suitable for injection into
// a child process's environment. It may be called at most once.
func (ch *Channel) Start() (string, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return "", ErrClosed
	}
	if ch.started {
		return "", ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("binding refresh channel: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", ch.handleWS)

	ch.listener = ln
	ch.server = &http.Server{Handler: mux}
	ch.started = true

	go func() {
		if err := ch.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("refresh channel server stopped: %v", err)
		}
	}()

	return "ws://" + ln.Addr().String(), nil
}

func (ch *Channel) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("refresh channel upgrade error: %v", err)
		return
	}

	c := ch.addClient(conn)
	if c == nil {
		conn.Close()
		return
	}

	// Drain (and ignore) anything the client sends; a read error means the
	// client is gone.
	go func() {
		defer ch.removeClient(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (ch *Channel) addClient(conn *websocket.Conn) *client {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return nil
	}
	c := newClient(conn)
	ch.clients[c] = true
	return c
}

func (ch *Channel) removeClient(c *client) {
	ch.mu.Lock()
	if _, ok := ch.clients[c]; ok {
		delete(ch.clients, c)
		c.close()
	}
	ch.mu.Unlock()
}

// Send broadcasts payload to all connected clients. It never blocks: each
// client has a buffered send queue, and a client too slow to drain it is
// disconnected. Sending with no clients connected is a no-op.
func (ch *Channel) Send(payload []byte) {
	ch.mu.RLock()
	clients := make([]*client, 0, len(ch.clients))
	for c := range ch.clients {
		clients = append(clients, c)
	}
	ch.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- payload:
		default:
			log.Printf("refresh client too slow, disconnecting")
			ch.removeClient(c)
		}
	}
}

// ClientCount reports the number of connected browser clients.
func (ch *Channel) ClientCount() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.clients)
}

// Close releases the listener and all client connections. It is idempotent
// and safe to call on a channel that was never started.
func (ch *Channel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true

	clients := ch.clients
	ch.clients = make(map[*client]bool)
	srv := ch.server
	ch.mu.Unlock()

	for c := range clients {
		c.close()
	}
	if srv != nil {
		srv.Close()
	}
}

// checkOrigin admits browser pages served from the local machine; the
// channel only ever binds loopback.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}
	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}
	return false
}
