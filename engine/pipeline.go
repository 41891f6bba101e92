package engine

import (
	"context"
	"time"
)

// pipeline is the generator/sender handshake around a DoubleBuffer.
//
//	generator: fill write slot -> wait drained -> Swap -> signal ready
//	sender:    wait ready -> drain read slot -> signal drained
//
// drained holds at most one token, so the generator can lead the sender
// by a single slot.
type pipeline struct {
	db      *DoubleBuffer
	ready   chan struct{}
	drained chan struct{}
}

func newPipeline(capacity int) *pipeline {
	p := &pipeline{
		db:      NewDoubleBuffer(capacity),
		ready:   make(chan struct{}, 1),
		drained: make(chan struct{}, 1),
	}
	// the initial read slot holds nothing, so it counts as drained
	p.drained <- struct{}{}
	return p
}

// publish hands the freshly filled write slot to the sender. It returns
// ErrChannelClosed if ctx ends first, which happens when the sender has gone.
func (p *pipeline) publish(ctx context.Context) error {
	select {
	case <-p.drained:
	case <-ctx.Done():
		return withKind(ErrChannelClosed, ctx.Err())
	}
	p.db.Swap()
	p.ready <- struct{}{}
	return nil
}

// finish tells the sender no further slot will be published.
func (p *pipeline) finish() {
	close(p.ready)
}

// next waits for a published slot. ok is false once the generator has
// finished and every published slot has been drained.
func (p *pipeline) next(ctx context.Context) (ok bool, err error) {
	select {
	case _, ok = <-p.ready:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// drain runs fn on the read slot and then releases it back to the generator.
func (p *pipeline) drain(fn func(*SlotBuffer) error) error {
	err := p.db.Read(func(s *SlotBuffer) error {
		s.Meta.RecvTimestamp = time.Now()
		return fn(s)
	})
	p.drained <- struct{}{}
	return err
}
