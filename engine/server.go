package engine

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Sender drains published slots to the outbound stream.
type Sender struct {
	w        io.Writer
	stats    *Stats
	id       string
	interval time.Duration
	maxSpeed float64 // Mbps
	start    time.Time
}

// NewSender returns a sender writing to w and counting into stats.
func NewSender(w io.Writer, stats *Stats, id string, cfg Config) *Sender {
	return &Sender{
		w:        w,
		stats:    stats,
		id:       id,
		interval: cfg.ReportInterval,
		maxSpeed: cfg.MaxSpeed,
	}
}

// send writes every published slot until the generator finishes or ctx
// ends. It returns an ErrWrite kind error on any failed or short write.
func (s *Sender) send(ctx context.Context, p *pipeline) error {
	s.start = time.Now()
	for {
		ok, err := p.next(ctx)
		if err != nil || !ok {
			return nil
		}
		var n int
		err = p.drain(func(slot *SlotBuffer) error {
			s.stats.RecordLag(slot.Meta.Lag())
			n, err = s.w.Write(slot.Bytes())
			if err == nil && n != slot.Len() {
				err = io.ErrShortWrite
			}
			return err
		})
		if n > 0 {
			s.stats.Record(n)
		}
		if err != nil {
			if ctx.Err() != nil {
				// the stream was closed under us on shutdown
				return nil
			}
			return withKind(ErrWrite, err)
		}
		now := time.Now()
		s.stats.update(now, s.interval, s.id, "Server sent", "snd/s")
		if err := s.throttle(ctx, now); err != nil {
			return nil
		}
	}
}

// throttle sleeps while the average rate since start is above maxSpeed.
func (s *Sender) throttle(ctx context.Context, now time.Time) error {
	if s.maxSpeed <= 0 {
		return nil
	}
	bits := float64(8 * s.stats.TotalBytes())
	due := s.start.Add(time.Duration(bits / (s.maxSpeed * 1000000) * float64(time.Second)))
	wait := due.Sub(now)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionResult describes one finished server session.
type SessionResult struct {
	ID     string
	Remote string
	Report *Report
	Err    error
}

// runSession pushes generated payload to stream until the count or
// duration is reached, the peer goes away or ctx ends. The stream is
// always closed on return.
func runSession(ctx context.Context, cfg Config, stream Stream) SessionResult {
	res := SessionResult{ID: uuid.New().String(), Remote: stream.RemoteAddr().String()}
	conn := &onceCloser{Stream: stream}
	defer conn.Close()

	src, srcCloser, err := openSource(cfg.Payload)
	if err != nil {
		res.Err = err
		return res
	}
	defer srcCloser.Close()

	size := int(cfg.PacketSize)
	if limit := conn.PacketLimit(); limit > 0 && limit < size {
		size = limit
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	gctx := sctx
	if cfg.Duration > 0 {
		var gcancel context.CancelFunc
		gctx, gcancel = context.WithTimeout(sctx, cfg.Duration)
		defer gcancel()
	}
	// on server shutdown the stream is aborted rather than drained to the peer
	release := func() {
		if ctx.Err() != nil {
			conn.Abort()
			return
		}
		conn.Close()
	}
	go func() {
		// unblocks a sender stuck in Write when the server shuts down
		<-sctx.Done()
		release()
	}()

	var stats Stats
	p := newPipeline(size)
	gen := NewGenerator(src, cfg.Count)
	sender := NewSender(conn, &stats, res.ID, cfg)

	log.Printf("session %s: streaming to %s, packet size %d", res.ID, res.Remote, size)
	stats.Start(time.Now())

	var wg sync.WaitGroup
	var errGen error
	wg.Add(1)
	go func() {
		defer wg.Done()
		errGen = gen.run(gctx, p, res.ID)
	}()

	errSend := sender.send(sctx, p)
	// a sender that stopped early must not leave the generator waiting
	cancel()
	wg.Wait()
	stats.Stop(time.Now())
	release()

	res.Report = stats.Report()
	switch {
	case errSend != nil:
		res.Err = errSend
	case errGen != nil && !errors.Is(errGen, ErrChannelClosed):
		res.Err = errGen
	}
	return res
}
