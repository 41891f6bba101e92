package engine

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Engine runs one role of the throughput test.
type Engine struct {
	cfg       Config
	factory   StreamFactory
	onSession func(SessionResult)
}

// New returns an engine for cfg. A nil factory selects the one matching cfg.Proto.
func New(cfg Config, factory StreamFactory) *Engine {
	if factory == nil {
		factory = NewStreamFactory(cfg)
	}
	return &Engine{cfg: cfg, factory: factory}
}

// OnSession registers fn to receive every finished server session.
// It is called from the session's goroutine.
func (e *Engine) OnSession(fn func(SessionResult)) {
	e.onSession = fn
}

// Run validates the configuration and runs the configured role. The client
// returns its report. The server serves until ctx ends and returns no report.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	if e.cfg.Role == Client {
		return e.runClient(ctx)
	}
	l, err := e.Listen(ctx)
	if err != nil {
		return nil, err
	}
	return nil, e.Serve(ctx, l)
}

func (e *Engine) setState(id string, s State) {
	log.Printf("%s %s: %s", e.cfg.Role, id, s)
}

// runClient is Connecting -> Receiving -> Finalizing -> Done.
func (e *Engine) runClient(ctx context.Context) (*Report, error) {
	id := uuid.New().String()
	e.setState(id, Connecting)
	stream, err := e.factory.Dial(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("client %s: connected to %s", id, stream.RemoteAddr())

	conn := &onceCloser{Stream: stream}
	defer conn.Close()

	// closing the stream ourselves ends the receive loop early; that is
	// a normal end of the test, not a read failure
	var stopped atomic.Bool
	stop := func() {
		stopped.Store(true)
		conn.Close()
	}
	if e.cfg.Duration > 0 {
		timer := time.AfterFunc(e.cfg.Duration, stop)
		defer timer.Stop()
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	e.setState(id, Receiving)
	var stats Stats
	stats.Start(time.Now())
	errRecv := NewReceiver(conn, int(e.cfg.PacketSize), &stats, id, e.cfg.ReportInterval).Receive()
	stats.Stop(time.Now())
	if errRecv != nil && stopped.Load() {
		errRecv = nil
	}

	e.setState(id, Finalizing)
	report := stats.Report()
	e.setState(id, Done)
	return report, errRecv
}

// Listen claims the configured address.
func (e *Engine) Listen(ctx context.Context) (Listener, error) {
	l, err := e.factory.Listen(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("server: %s on %s", Listening, l.Addr())
	return l, nil
}

// Serve accepts peers on l until ctx ends, running one independent session
// per peer, and waits for the sessions to finish. l is closed on return.
func (e *Engine) Serve(ctx context.Context, l Listener) error {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-lctx.Done()
		l.Close()
	}()

	var wg sync.WaitGroup
	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		stream, err := l.Accept(lctx)
		if err != nil {
			if lctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			if tempDelay == 0 {
				tempDelay = minAcceptDelay
			} else {
				tempDelay *= 2
			}
			if tempDelay > maxAcceptDelay {
				tempDelay = maxAcceptDelay
			}
			log.Printf("Serve: accept error: %v; retrying in %v", err, tempDelay)
			timer := time.NewTimer(tempDelay)
			select {
			case <-timer.C:
			case <-lctx.Done():
				timer.Stop()
			}
			continue
		}
		tempDelay = 0
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := runSession(lctx, e.cfg, stream)
			e.finishSession(res)
		}()
	}

	wg.Wait()
	log.Printf("server: %s", Joined)
	return nil
}

func (e *Engine) finishSession(res SessionResult) {
	if res.Err != nil {
		log.Printf("session %s: %s: %v", res.ID, res.Remote, res.Err)
	}
	if res.Report != nil {
		log.Printf("session %s: %s finished\n%s", res.ID, res.Remote, res.Report)
	}
	if e.onSession != nil {
		e.onSession(res)
	}
}
