package engine

import (
	"bytes"
	"context"
	"encoding/gob"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

const udpKeepalive = 500 * time.Millisecond

// errPeerIdle ends a udp session whose client stopped sending keepalives.
var errPeerIdle = errors.New("udp peer idle")

type udpFactory struct {
	cfg Config
}

func (f *udpFactory) Dial(ctx context.Context) (Stream, error) {
	dialer := net.Dialer{Control: dialControl(f.cfg.SockBuf)}
	if f.cfg.LocalAddr != "" {
		addr, err := net.ResolveUDPAddr("udp", f.cfg.LocalAddr)
		if err != nil {
			return nil, withKind(ErrConnect, errors.Wrapf(err, "resolve local address %s", f.cfg.LocalAddr))
		}
		dialer.LocalAddr = addr
	}
	conn, err := dialer.DialContext(ctx, "udp", f.cfg.remoteAddr())
	if err != nil {
		return nil, withKind(ErrConnect, err)
	}
	if err := sendHello(conn, Hello{PacketSize: f.cfg.PacketSize}); err != nil {
		conn.Close()
		return nil, withKind(ErrConnect, err)
	}
	return &udpClientStream{
		UDPConn:    conn.(*net.UDPConn),
		idle:       f.cfg.IdleTimeout,
		packetSize: f.cfg.PacketSize,
		lastHello:  time.Now(),
	}, nil
}

func sendHello(conn net.Conn, hello Hello) error {
	var optBuf bytes.Buffer
	enc := gob.NewEncoder(&optBuf)
	if err := enc.Encode(&hello); err != nil {
		return errors.Wrap(err, "encode hello")
	}
	if _, err := conn.Write(optBuf.Bytes()); err != nil {
		return errors.Wrap(err, "write hello")
	}
	return nil
}

// udpClientStream ends the stream on a zero-length datagram (a plain
// zero-length read) or once no datagram arrived for the idle timeout.
// While reading it keeps telling the server it is still there.
type udpClientStream struct {
	*net.UDPConn
	idle       time.Duration
	packetSize uint32
	lastHello  time.Time
}

func (s *udpClientStream) Read(p []byte) (int, error) {
	if now := time.Now(); now.Sub(s.lastHello) >= udpKeepalive {
		s.lastHello = now
		if err := sendHello(s.UDPConn, Hello{PacketSize: s.packetSize, Keepalive: true}); err != nil {
			log.Printf("udpClientStream: keepalive: %v", err)
		}
	}
	if s.idle > 0 {
		s.SetReadDeadline(time.Now().Add(s.idle))
	}
	n, err := s.UDPConn.Read(p)
	if err, ok := err.(net.Error); ok && err.Timeout() {
		log.Printf("udpClientStream: idle for %s, treating as end of stream", s.idle)
		return n, io.EOF
	}
	return n, err
}

func (f *udpFactory) Listen(ctx context.Context) (Listener, error) {
	lc := net.ListenConfig{Control: listenControl(f.cfg.SockBuf)}
	pc, err := lc.ListenPacket(ctx, "udp", f.cfg.listenAddr())
	if err != nil {
		return nil, classifyListenErr(err)
	}
	l := &udpListener{
		conn:   pc.(*net.UDPConn),
		size:   int(f.cfg.PacketSize),
		idle:   peerIdleTimeout(f.cfg.IdleTimeout),
		accept: make(chan Stream),
		done:   make(chan struct{}),
		peers:  map[string]*udpPeerStream{},
	}
	go l.handleUDP()
	return l, nil
}

// peerIdleTimeout is how long a peer may stay silent before its session
// ends. 0 disables the check; it never drops below a few keepalive periods.
func peerIdleTimeout(idle time.Duration) time.Duration {
	if idle <= 0 {
		return 0
	}
	if floor := 4 * udpKeepalive; idle < floor {
		return floor
	}
	return idle
}

// udpListener demultiplexes datagrams by source address. A Hello from an
// unknown source becomes a new peer stream, a datagram from a known one
// refreshes it, and a keepalive from an unknown source is dropped.
type udpListener struct {
	conn   *net.UDPConn
	size   int
	idle   time.Duration
	accept chan Stream
	done   chan struct{}
	once   sync.Once

	mutex sync.Mutex
	peers map[string]*udpPeerStream
}

func (l *udpListener) handleUDP() {
	buf := make([]byte, 2048)
	for {
		n, src, errRead := l.conn.ReadFromUDP(buf)
		if errRead != nil {
			select {
			case <-l.done:
				return
			default:
			}
			if errors.Is(errRead, net.ErrClosed) {
				return
			}
			log.Printf("handleUDP: ERROR read: %v", errRead)
			continue
		}

		l.mutex.Lock()
		known, found := l.peers[src.String()]
		l.mutex.Unlock()
		if found {
			known.lastSeen.Store(time.Now())
			continue
		}

		var hello Hello
		dec := gob.NewDecoder(bytes.NewBuffer(buf[:n]))
		if errHello := dec.Decode(&hello); errHello != nil {
			log.Printf("handleUDP: ERROR hello from %v: %v", src, errHello)
			continue
		}
		if hello.Keepalive {
			// late keepalive of a session that already ended
			continue
		}
		log.Printf("handleUDP: hello from %v: %+v", src, hello)

		peer := &udpPeerStream{l: l, addr: src, limit: l.size}
		if hello.PacketSize > 0 && int(hello.PacketSize) < peer.limit {
			peer.limit = int(hello.PacketSize)
		}
		peer.lastSeen.Store(time.Now())
		l.mutex.Lock()
		l.peers[src.String()] = peer
		l.mutex.Unlock()

		select {
		case l.accept <- peer:
		case <-l.done:
			return
		}
	}
}

func (l *udpListener) Accept(ctx context.Context) (Stream, error) {
	select {
	case s := <-l.accept:
		return s, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *udpListener) Addr() net.Addr { return l.conn.LocalAddr() }

func (l *udpListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.conn.Close()
	})
	return err
}

func (l *udpListener) forget(addr *net.UDPAddr) {
	l.mutex.Lock()
	delete(l.peers, addr.String())
	l.mutex.Unlock()
}

// udpPeerStream sends datagrams to one client over the shared socket.
// The socket is unconnected and never reports a vanished client, so a
// write fails once the client has been silent for the listener's idle time.
type udpPeerStream struct {
	l        *udpListener
	addr     *net.UDPAddr
	limit    int
	lastSeen atomic.Time
}

func (s *udpPeerStream) Write(p []byte) (int, error) {
	if s.l.idle > 0 {
		if silent := time.Since(s.lastSeen.Load()); silent > s.l.idle {
			return 0, errors.Wrapf(errPeerIdle, "nothing from %s for %s", s.addr, silent.Truncate(time.Millisecond))
		}
	}
	return s.l.conn.WriteToUDP(p, s.addr)
}

// Read is never used on the producing side.
func (s *udpPeerStream) Read([]byte) (int, error) { return 0, io.EOF }

// Close sends the zero-length end-of-stream datagram.
func (s *udpPeerStream) Close() error {
	defer s.l.forget(s.addr)
	_, err := s.l.conn.WriteToUDP(nil, s.addr)
	return err
}

func (s *udpPeerStream) RemoteAddr() net.Addr { return s.addr }
func (s *udpPeerStream) PacketLimit() int     { return s.limit }
