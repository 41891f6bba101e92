package engine

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// Stream is the duplex byte stream a session runs over.
type Stream interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// Listener yields one Stream per accepted peer.
type Listener interface {
	Accept(ctx context.Context) (Stream, error)
	Addr() net.Addr
	Close() error
}

// StreamFactory connects (client) or listens (server) for one transport.
type StreamFactory interface {
	Dial(ctx context.Context) (Stream, error)
	Listen(ctx context.Context) (Listener, error)
}

// packetLimiter is implemented by datagram streams whose peer announced
// a smaller receive buffer than the configured packet size.
type packetLimiter interface {
	PacketLimit() int
}

// NewStreamFactory returns the factory for cfg.Proto.
func NewStreamFactory(cfg Config) StreamFactory {
	switch cfg.Proto {
	case UDP:
		return &udpFactory{cfg: cfg}
	case QUIC:
		return &quicFactory{cfg: cfg}
	}
	return &tcpFactory{cfg: cfg}
}

type tcpFactory struct {
	cfg Config
}

func (f *tcpFactory) Dial(ctx context.Context) (Stream, error) {
	dialer := net.Dialer{Control: dialControl(f.cfg.SockBuf)}
	if f.cfg.LocalAddr != "" {
		addr, err := net.ResolveTCPAddr("tcp", f.cfg.LocalAddr)
		if err != nil {
			return nil, withKind(ErrConnect, errors.Wrapf(err, "resolve local address %s", f.cfg.LocalAddr))
		}
		dialer.LocalAddr = addr
	}
	conn, err := dialer.DialContext(ctx, "tcp", f.cfg.remoteAddr())
	if err != nil {
		return nil, withKind(ErrConnect, err)
	}
	return conn.(*net.TCPConn), nil
}

func (f *tcpFactory) Listen(ctx context.Context) (Listener, error) {
	lc := net.ListenConfig{Control: listenControl(f.cfg.SockBuf)}
	l, err := lc.Listen(ctx, "tcp", f.cfg.listenAddr())
	if err != nil {
		return nil, classifyListenErr(err)
	}
	return &tcpListener{l: l}, nil
}

type tcpListener struct {
	l net.Listener
}

func (t *tcpListener) Accept(context.Context) (Stream, error) {
	conn, err := t.l.Accept()
	if err != nil {
		return nil, err
	}
	return conn.(*net.TCPConn), nil
}

func (t *tcpListener) Addr() net.Addr { return t.l.Addr() }
func (t *tcpListener) Close() error   { return t.l.Close() }

// aborter is implemented by streams whose Close waits for the peer to
// finish reading. Abort tears the stream down without that wait.
type aborter interface {
	Abort() error
}

// onceCloser makes Close idempotent; the session closes its stream both on
// completion and on cancellation. The first of Close and Abort wins.
type onceCloser struct {
	Stream
	once sync.Once
	err  error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() {
		c.err = c.Stream.Close()
	})
	return c.err
}

func (c *onceCloser) Abort() error {
	c.once.Do(func() {
		if a, ok := c.Stream.(aborter); ok {
			c.err = a.Abort()
			return
		}
		c.err = c.Stream.Close()
	})
	return c.err
}

func (c *onceCloser) PacketLimit() int {
	if pl, ok := c.Stream.(packetLimiter); ok {
		return pl.PacketLimit()
	}
	return 0
}
