package engine

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// Receiver reads a stream into a fixed scratch buffer and counts every read.
type Receiver struct {
	read     call
	buf      []byte
	stats    *Stats
	id       string
	interval time.Duration
}

// NewReceiver returns a receiver reading from r in chunks of at most size bytes.
func NewReceiver(r io.Reader, size int, stats *Stats, id string, interval time.Duration) *Receiver {
	return &Receiver{
		read:     r.Read,
		buf:      make([]byte, size),
		stats:    stats,
		id:       id,
		interval: interval,
	}
}

// Receive loops until the peer closes the stream. A zero-length read or
// io.EOF is a graceful close and returns nil; any other failure is
// returned as an ErrRead kind error.
func (r *Receiver) Receive() error {
	for {
		n, err := r.read(r.buf)
		if n > 0 {
			r.stats.Record(n)
			r.stats.update(time.Now(), r.interval, r.id, "Client received", "rcv/s")
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return withKind(ErrRead, err)
		}
		if n == 0 {
			return nil
		}
	}
}
