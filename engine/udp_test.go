package engine

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func udpServer(t *testing.T) (port uint32, results <-chan SessionResult) {
	srv := DefaultConfig()
	srv.Proto = UDP
	srv.PacketSize = 512
	srv.MaxSpeed = 1
	srv.ReportInterval = 0
	return startServer(t, srv)
}

func TestPeerIdleTimeout(t *testing.T) {
	for in, want := range map[time.Duration]time.Duration{
		0:                  0,
		time.Millisecond:   4 * udpKeepalive,
		5 * time.Second:    5 * time.Second,
		-1 * time.Second:   0,
		4 * udpKeepalive:   4 * udpKeepalive,
		4*udpKeepalive - 1: 4 * udpKeepalive,
		4*udpKeepalive + 1: 4*udpKeepalive + 1,
	} {
		if got := peerIdleTimeout(in); got != want {
			t.Errorf("peerIdleTimeout(%s)=%s, wanted %s", in, got, want)
		}
	}
}

func TestUDPSessionEndsWhenClientSilent(t *testing.T) {
	port, results := udpServer(t)

	// a client that says hello once and then never answers
	conn, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := sendHello(conn, Hello{PacketSize: 512}); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-results:
		if !isKind(res.Err, ErrWrite) || !errors.Is(res.Err, errPeerIdle) {
			t.Errorf("session error=%v, wanted an idle peer write error", res.Err)
		}
		if res.Report.PacketCount == 0 {
			t.Errorf("session sent nothing before the peer went idle")
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("session for a silent client kept streaming")
	}
}

func TestUDPKeepaliveKeepsSession(t *testing.T) {
	port, results := udpServer(t)

	cfg := clientConfig(UDP, port)
	cfg.PacketSize = 512
	cfg.Duration = 3 * time.Second
	report, err := New(cfg, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if report.TotalBytes == 0 {
		t.Fatalf("client received nothing")
	}
	select {
	case res := <-results:
		t.Fatalf("session ended while the client was reading: %v", res.Err)
	default:
	}

	// the client has stopped, so its session must end on its own
	select {
	case res := <-results:
		if !errors.Is(res.Err, errPeerIdle) {
			t.Errorf("session error=%v, wanted the peer to be idle", res.Err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("session outlived its client")
	}
}
