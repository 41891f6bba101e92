package engine

import (
	"context"
	"crypto/rand"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Pattern is the payload byte of chunk seq: an ASCII digit cycling 0-9.
func Pattern(seq uint64) byte {
	return '0' + byte(seq%10)
}

// Source fills p with the payload of chunk seq and returns the bytes written.
type Source interface {
	Fill(seq uint64, p []byte) (int, error)
}

type patternSource struct{}

func (patternSource) Fill(seq uint64, p []byte) (int, error) {
	b := Pattern(seq)
	for i := range p {
		p[i] = b
	}
	return len(p), nil
}

type randomSource struct{}

func (randomSource) Fill(_ uint64, p []byte) (int, error) {
	return rand.Read(p)
}

// readerSource streams application data and starts over at EOF, so every
// chunk is filled to its full length.
type readerSource struct {
	r io.ReadSeeker
}

func (s *readerSource) Fill(_ uint64, p []byte) (int, error) {
	n := 0
	rewound := false
	for n < len(p) {
		m, err := s.r.Read(p[n:])
		n += m
		if m > 0 {
			rewound = false
		}
		switch {
		case errors.Is(err, io.EOF):
			if rewound {
				// nothing left between two rewinds: the file was truncated
				return n, io.ErrUnexpectedEOF
			}
			if _, errSeek := s.r.Seek(0, io.SeekStart); errSeek != nil {
				return n, errSeek
			}
			rewound = true
		case err != nil:
			return n, err
		}
	}
	return n, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openSource parses a payload description (pattern, random or file:<path>) and
// returns a source for one session. Each session reads a file from its start.
func openSource(payload string) (Source, io.Closer, error) {
	switch {
	case payload == "" || payload == "pattern":
		return patternSource{}, nopCloser{}, nil
	case payload == "random":
		return randomSource{}, nopCloser{}, nil
	case strings.HasPrefix(payload, "file:"):
		path := strings.TrimPrefix(payload, "file:")
		if path == "" {
			return nil, nil, kindErrorf(ErrConfig, "payload file path is empty")
		}
		file, err := os.Open(path)
		if err != nil {
			return nil, nil, withKind(ErrConfig, errors.Wrapf(err, "payload file %s", path))
		}
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, nil, withKind(ErrConfig, errors.Wrapf(err, "payload file %s", path))
		}
		if info.Size() == 0 {
			file.Close()
			return nil, nil, kindErrorf(ErrConfig, "payload file %s is empty", path)
		}
		return &readerSource{r: file}, file, nil
	}
	return nil, nil, kindErrorf(ErrConfig, "unknown payload %q", payload)
}

// checkSource validates a payload description without keeping anything open.
func checkSource(payload string) error {
	_, c, err := openSource(payload)
	if err != nil {
		return err
	}
	return c.Close()
}

// Generator fills write slots and hands them to the sender.
type Generator struct {
	src   Source
	count uint64 // 0 = unbounded
	seq   uint64
}

// NewGenerator returns a generator producing count chunks from src.
func NewGenerator(src Source, count uint64) *Generator {
	return &Generator{src: src, count: count}
}

// Fill writes the next chunk into slot and returns its length.
func (g *Generator) Fill(slot *SlotBuffer) (int, error) {
	n, err := g.src.Fill(g.seq, slot.Space())
	if err != nil {
		return 0, err
	}
	slot.SetLen(n)
	slot.Meta = PacketMetadata{SequenceNo: g.seq, SendTimestamp: time.Now()}
	g.seq++
	return n, nil
}

// Produced is the number of chunks filled so far.
func (g *Generator) Produced() uint64 { return g.seq }

// run fills and publishes chunks until the count is reached or ctx ends.
// It always finishes the pipeline so the sender can drain and stop.
func (g *Generator) run(ctx context.Context, p *pipeline, id string) error {
	defer p.finish()

	for g.count == 0 || g.seq < g.count {
		if ctx.Err() != nil {
			return nil
		}
		var errFill error
		p.db.Write(func(s *SlotBuffer) {
			_, errFill = g.Fill(s)
		})
		if errFill != nil {
			log.Printf("generator %s: fill: %v", id, errFill)
			return errFill
		}
		if err := p.publish(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				// the duration ran out while the sender still held its slot
				return nil
			}
			return err
		}
	}
	return nil
}
