package engine

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
)

const (
	quicALPN       = "netperf"
	quicCloseGrace = 2 * time.Second
)

type quicFactory struct {
	cfg Config
}

func (f *quicFactory) Dial(ctx context.Context) (Stream, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicALPN},
	}
	conn, err := quic.DialAddr(ctx, f.cfg.remoteAddr(), tlsConfig, nil)
	if err != nil {
		return nil, withKind(ErrConnect, err)
	}
	// the server opens the stream and pushes; it becomes visible with the first bytes
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return nil, withKind(ErrConnect, errors.Wrap(err, "accept stream"))
	}
	return &quicStream{Stream: stream, conn: conn}, nil
}

func (f *quicFactory) Listen(context.Context) (Listener, error) {
	tlsConfig, err := generateTLSConfig()
	if err != nil {
		return nil, withKind(ErrListen, err)
	}
	l, err := quic.ListenAddr(f.cfg.listenAddr(), tlsConfig, nil)
	if err != nil {
		return nil, classifyListenErr(err)
	}
	return &quicListener{l: l}, nil
}

// generateTLSConfig makes a throwaway self-signed certificate for the listener.
func generateTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour * 24 * 180),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, errors.Wrap(err, "create certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{certDER}, PrivateKey: key}},
		NextProtos:   []string{quicALPN},
	}, nil
}

type quicListener struct {
	l *quic.Listener
}

func (q *quicListener) Accept(ctx context.Context) (Stream, error) {
	conn, err := q.l.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream")
		return nil, errors.Wrapf(err, "open stream to %s", conn.RemoteAddr())
	}
	return &quicStream{Stream: stream, conn: conn, pushing: true}, nil
}

func (q *quicListener) Addr() net.Addr { return q.l.Addr() }
func (q *quicListener) Close() error   { return q.l.Close() }

// quicStream is one stream of a connection used as a whole session.
type quicStream struct {
	quic.Stream
	conn    quic.Connection
	pushing bool
}

func (s *quicStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Abort closes the connection at once, dropping unread data.
func (s *quicStream) Abort() error {
	s.Stream.CancelWrite(0)
	return s.conn.CloseWithError(0, "shutdown")
}

// Close on the pushing side sends FIN and gives the peer a moment to read
// everything and close the connection itself.
func (s *quicStream) Close() error {
	if !s.pushing {
		return s.conn.CloseWithError(0, "done")
	}
	err := s.Stream.Close()
	select {
	case <-s.conn.Context().Done():
	case <-time.After(quicCloseGrace):
	}
	s.conn.CloseWithError(0, "done")
	return err
}
