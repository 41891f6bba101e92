package engine

import (
	"fmt"
	"log"
	"math"
	"math/bits"
	"strings"
	"time"

	"go.uber.org/atomic"
)

const reportFormat = "%s %7s %14s rate: %6d Mbps %6d %s"

// Stats accumulates one session's counters. Record is called from the
// session's I/O goroutine; the getters are safe from any goroutine.
type Stats struct {
	packets   atomic.Uint64
	bytes     atomic.Uint64
	maxPacket atomic.Uint64
	maxLag    atomic.Duration
	start     atomic.Time
	end       atomic.Time

	// interval reporting, owned by the recording goroutine
	prevTime    time.Time
	prevBytes   uint64
	prevPackets uint64
}

// Start stamps the beginning of the measurement.
func (s *Stats) Start(now time.Time) {
	s.start.Store(now)
	s.prevTime = now
}

// Stop stamps the end of the measurement.
func (s *Stats) Stop(now time.Time) { s.end.Store(now) }

// Record counts one read or write of n bytes.
func (s *Stats) Record(n int) {
	size := uint64(n)
	s.packets.Inc()
	s.bytes.Add(size)
	for {
		cur := s.maxPacket.Load()
		if size <= cur || s.maxPacket.CompareAndSwap(cur, size) {
			return
		}
	}
}

// RecordLag keeps the largest fill-to-drain delay seen by a sender.
func (s *Stats) RecordLag(d time.Duration) {
	for {
		cur := s.maxLag.Load()
		if d <= cur || s.maxLag.CompareAndSwap(cur, d) {
			return
		}
	}
}

func (s *Stats) Packets() uint64       { return s.packets.Load() }
func (s *Stats) TotalBytes() uint64    { return s.bytes.Load() }
func (s *Stats) MaxPacketSize() uint64 { return s.maxPacket.Load() }

// update logs the rate over the last interval once interval has passed.
func (s *Stats) update(now time.Time, interval time.Duration, conn, label, cpsLabel string) {
	if interval <= 0 {
		return
	}
	elap := now.Sub(s.prevTime)
	if elap <= interval {
		return
	}
	size, calls := s.bytes.Load(), s.packets.Load()
	elapSec := elap.Seconds()
	mbps := int64(float64(8*(size-s.prevBytes)) / (1000000 * elapSec)) //Megabits per second
	cps := int64(float64(calls-s.prevPackets) / elapSec)

	log.Printf(reportFormat, conn, "report", label, mbps, cps, cpsLabel)

	s.prevTime = now
	s.prevBytes = size
	s.prevPackets = calls
}

// Report finalizes the counters over the stamped start and end.
func (s *Stats) Report() *Report {
	r := s.Finalize(s.start.Load(), s.end.Load())
	r.MaxLag = s.maxLag.Load()
	return r
}

// Finalize computes the report for the window [start, end].
func (s *Stats) Finalize(start, end time.Time) *Report {
	elapsed := end.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	r := &Report{
		PacketCount:   s.packets.Load(),
		MaxPacketSize: s.maxPacket.Load(),
		TotalBytes:    s.bytes.Load(),
		Elapsed:       elapsed,
		ElapsedMs:     elapsed.Milliseconds(),
	}
	r.BandwidthBps, r.Available = bandwidth(r.TotalBytes, elapsed)
	r.BandwidthKBps = r.BandwidthBps / 1024
	r.BandwidthMBps = r.BandwidthBps / (1024 * 1024)
	return r
}

// bandwidth is total/elapsed in bytes per second with 128-bit intermediate
// arithmetic. ok is false when elapsed is zero.
func bandwidth(total uint64, elapsed time.Duration) (bps uint64, ok bool) {
	if elapsed <= 0 {
		return 0, false
	}
	ns := uint64(elapsed)
	hi, lo := bits.Mul64(total, uint64(time.Second))
	if hi >= ns {
		return math.MaxUint64, true
	}
	bps, _ = bits.Div64(hi, lo, ns)
	return bps, true
}

// Report is the final statistics of one session.
type Report struct {
	PacketCount   uint64
	MaxPacketSize uint64
	TotalBytes    uint64
	Elapsed       time.Duration
	ElapsedMs     int64
	BandwidthBps  uint64
	BandwidthKBps uint64
	BandwidthMBps uint64
	Available     bool          // false when the elapsed time was zero
	MaxLag        time.Duration // sender side only
}

func (r *Report) String() string {
	var b strings.Builder
	b.WriteString("--- netperf statistics ---\n")
	fmt.Fprintf(&b, "%d packets, %d bytes in %d ms, max packet size %d\n",
		r.PacketCount, r.TotalBytes, r.ElapsedMs, r.MaxPacketSize)
	if r.Available {
		fmt.Fprintf(&b, "bandwidth: %d B/s, %d kB/s, %d MB/s\n",
			r.BandwidthBps, r.BandwidthKBps, r.BandwidthMBps)
	} else {
		b.WriteString("bandwidth: unavailable (elapsed time is zero)\n")
	}
	if r.MaxLag > 0 {
		fmt.Fprintf(&b, "max handoff lag: %s\n", r.MaxLag)
	}
	return b.String()
}
