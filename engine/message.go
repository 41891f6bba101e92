package engine

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Role selects which side of the test a process plays.
type Role int

const (
	Server Role = iota // produces the stream
	Client             // receives the stream and reports
)

func (r Role) String() string {
	switch r {
	case Server:
		return "server"
	case Client:
		return "client"
	}
	return "role(" + strconv.Itoa(int(r)) + ")"
}

// Proto is the transport a session runs over.
type Proto string

const (
	TCP  Proto = "tcp"
	UDP  Proto = "udp"
	QUIC Proto = "quic"
)

const (
	DefaultPort       = 9090
	DefaultPacketSize = 4096
	maxStreamPacket   = 65535
	maxDatagram       = 65507
)

// Config is built once at startup and never mutated afterwards.
type Config struct {
	Role           Role
	Proto          Proto
	Port           uint32
	Address        string        // remote address, client only
	LocalAddr      string        // optional client binding address
	PacketSize     uint32        // slot capacity and client scratch buffer
	Duration       time.Duration // 0 = unbounded
	Count          uint64        // chunks per session, 0 = unbounded
	Payload        string        // pattern | random | file:<path>
	ReportInterval time.Duration
	IdleTimeout    time.Duration // udp client only
	MaxSpeed       float64       // Mbps, 0 = unlimited
	SockBuf        int           // SO_SNDBUF/SO_RCVBUF, 0 = system default
}

// DefaultConfig returns the values used when nothing else is configured.
func DefaultConfig() Config {
	return Config{
		Role:           Server,
		Proto:          TCP,
		Port:           DefaultPort,
		PacketSize:     DefaultPacketSize,
		Payload:        "pattern",
		ReportInterval: time.Second,
		IdleTimeout:    2 * time.Second,
	}
}

// Validate reports the first inconsistency found in c.
func (c Config) Validate() error {
	if c.Role != Server && c.Role != Client {
		return kindErrorf(ErrConfig, "unknown role %d", int(c.Role))
	}
	switch c.Proto {
	case TCP, UDP, QUIC:
	default:
		return kindErrorf(ErrConfig, "unknown transport %q", c.Proto)
	}
	if c.Port > 65535 {
		return kindErrorf(ErrConfig, "port %d out of range", c.Port)
	}
	if c.Role == Client && c.Address == "" {
		return kindErrorf(ErrConfig, "client needs a remote address")
	}
	limit := uint32(maxStreamPacket)
	if c.Proto != TCP {
		limit = maxDatagram
	}
	if c.PacketSize == 0 || c.PacketSize > limit {
		return kindErrorf(ErrConfig, "packet size %d outside 1-%d for %s", c.PacketSize, limit, c.Proto)
	}
	return checkSource(c.Payload)
}

func (c Config) remoteAddr() string {
	return appendPortIfMissing(c.Address, ":"+strconv.Itoa(int(c.Port)))
}

func (c Config) listenAddr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(int(c.Port)))
}

func (c Config) String() string {
	return fmt.Sprintf("role=%s proto=%s port=%d addr=%q size=%d duration=%s count=%d payload=%s",
		c.Role, c.Proto, c.Port, c.Address, c.PacketSize, c.Duration, c.Count, c.Payload)
}

// State is a step of the client or server control flow.
type State int

const (
	Connecting State = iota
	Receiving
	Finalizing
	Done
	Listening
	Joined
)

var stateNames = [...]string{"connecting", "receiving", "finalizing", "done", "listening", "joined"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

// Hello is the preamble a datagram client sends so the server learns its
// address. The client repeats it with Keepalive set while it is reading.
type Hello struct {
	PacketSize uint32
	Keepalive  bool
}

// PacketMetadata travels with each chunk through the double buffer.
type PacketMetadata struct {
	SendTimestamp time.Time // filled by the generator
	RecvTimestamp time.Time // picked up by the sender
	SequenceNo    uint64
}

// Lag is how long the chunk waited between fill and drain.
func (m PacketMetadata) Lag() time.Duration {
	if m.SendTimestamp.IsZero() || m.RecvTimestamp.IsZero() {
		return 0
	}
	return m.RecvTimestamp.Sub(m.SendTimestamp)
}

type call func(p []byte) (n int, err error)

func appendPortIfMissing(host, port string) string {
LOOP:
	for i := len(host) - 1; i >= 0; i-- {
		c := host[i]
		switch c {
		case ']':
			break LOOP
		case ':':
			return host
		}
	}

	return host + port
}
