package gossip

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// maxMessageSize bounds a single wire message, guarding against a
// misbehaving or confused peer claiming an unbounded length prefix.
const maxMessageSize = 16 * 1024 * 1024

// ErrTransportClosed is returned by Broadcast once Close has run.
var ErrTransportClosed = errors.New("gossip: transport closed")

// Transport is the interface the consensus driver consumes (spec §1): it
// neither knows nor cares whether messages travel over TCP, in-process
// channels, or anything else.
type Transport interface {
	Messages() <-chan Message
	Broadcast(Message) error
	Close() error
}

// TCPTransport is a minimal length-prefixed-JSON-over-TCP Transport: it
// listens for inbound peer connections and dials a static list of outbound
// peers (spec §6's `--peer <IP:PORT>` flag), satisfying the gossip contract
// without peer discovery, transport encryption, or NAT traversal, all
// explicitly out of scope (spec §1 non-goals).
type TCPTransport struct {
	listener net.Listener

	mu      sync.Mutex
	conns   map[net.Conn]bool
	closed  bool

	inbox chan Message
}

// NewTCPTransport starts listening on listenAddr and dials every address in
// peers, returning once the listener is up (outbound dials happen in the
// background; a dial that fails is dropped and never retried).
func NewTCPTransport(listenAddr string, peers []string) (*TCPTransport, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("gossip: listen on %s: %w", listenAddr, err)
	}
	t := &TCPTransport{
		listener: ln,
		conns:    make(map[net.Conn]bool),
		inbox:    make(chan Message, 256),
	}
	go t.acceptLoop()
	for _, addr := range peers {
		go t.dial(addr)
	}
	return t, nil
}

func (t *TCPTransport) dial(addr string) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return
	}
	t.adopt(conn)
}

func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		t.adopt(conn)
	}
}

// adopt registers conn and starts reading messages from it into inbox.
func (t *TCPTransport) adopt(conn net.Conn) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conns[conn] = true
	t.mu.Unlock()

	go t.readLoop(conn)
}

func (t *TCPTransport) readLoop(conn net.Conn) {
	defer t.drop(conn)
	reader := bufio.NewReader(conn)
	for {
		msg, err := readMessage(reader)
		if err != nil {
			return
		}
		if msg.Validate() != nil {
			continue
		}
		t.inbox <- msg
	}
}

func (t *TCPTransport) drop(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
	conn.Close()
}

func readMessage(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size == 0 || size > maxMessageSize {
		return Message{}, fmt.Errorf("gossip: message size %d out of bounds", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("gossip: decode message: %w", err)
	}
	return msg, nil
}

func writeMessage(w io.Writer, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("gossip: encode message: %w", err)
	}
	if len(body) > maxMessageSize {
		return fmt.Errorf("gossip: message size %d exceeds limit", len(body))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// Messages returns the channel of validated messages received from peers.
func (t *TCPTransport) Messages() <-chan Message { return t.inbox }

// ConnCount reports how many peer connections are currently open, primarily
// useful for tests and diagnostics.
func (t *TCPTransport) ConnCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Broadcast writes msg to every currently connected peer, best-effort: a
// write failure on one connection drops that connection without failing the
// whole broadcast.
func (t *TCPTransport) Broadcast(msg Message) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	conns := make([]net.Conn, 0, len(t.conns))
	for conn := range t.conns {
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	for _, conn := range conns {
		if err := writeMessage(conn, msg); err != nil {
			t.drop(conn)
		}
	}
	return nil
}

// Close stops accepting new connections and closes every existing one.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]net.Conn, 0, len(t.conns))
	for conn := range t.conns {
		conns = append(conns, conn)
	}
	t.conns = make(map[net.Conn]bool)
	t.mu.Unlock()

	err := t.listener.Close()
	for _, conn := range conns {
		conn.Close()
	}
	return err
}
