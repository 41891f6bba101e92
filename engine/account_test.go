package engine

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestStatsRecord(t *testing.T) {
	var s Stats
	var prevPackets, prevBytes, prevMax uint64
	for _, n := range []int{100, 4096, 1, 0, 2048, 4096, 7} {
		s.Record(n)
		if s.Packets() < prevPackets || s.TotalBytes() < prevBytes || s.MaxPacketSize() < prevMax {
			t.Errorf("counters went backwards after Record(%d)", n)
		}
		prevPackets, prevBytes, prevMax = s.Packets(), s.TotalBytes(), s.MaxPacketSize()
	}
	expectUint(t, "packets", s.Packets(), 7)
	expectUint(t, "bytes", s.TotalBytes(), 100+4096+1+2048+4096+7)
	expectUint(t, "max", s.MaxPacketSize(), 4096)
}

func TestBandwidthArithmetic(t *testing.T) {
	var s Stats
	for i := 0; i < 100; i++ {
		s.Record(1024 * 1024)
	}
	start := time.Unix(1000, 0)
	r := s.Finalize(start, start.Add(10*time.Second))

	expectUint(t, "total", r.TotalBytes, 104857600)
	expectUint(t, "bps", r.BandwidthBps, 10485760)
	expectUint(t, "kbps", r.BandwidthKBps, 10240)
	expectUint(t, "mbps", r.BandwidthMBps, 10)
	if !r.Available {
		t.Errorf("bandwidth not available for a 10s window")
	}
	if r.ElapsedMs != 10000 {
		t.Errorf("elapsed=%dms, wanted 10000", r.ElapsedMs)
	}
}

func TestBandwidthZeroElapsed(t *testing.T) {
	var s Stats
	s.Record(4096)
	now := time.Now()
	r := s.Finalize(now, now)
	if r.Available {
		t.Errorf("bandwidth reported as available for a zero window")
	}
	if r.BandwidthBps != 0 {
		t.Errorf("bps=%d for a zero window, wanted 0", r.BandwidthBps)
	}
	if !strings.Contains(r.String(), "unavailable") {
		t.Errorf("report does not flag bandwidth as unavailable:\n%s", r)
	}

	// end before start is clamped rather than producing a negative rate
	r = s.Finalize(now, now.Add(-time.Second))
	if r.Available || r.Elapsed != 0 {
		t.Errorf("negative window: available=%v elapsed=%s", r.Available, r.Elapsed)
	}
}

func TestBandwidthNoOverflow(t *testing.T) {
	// 1 EiB over 1000 hours overflows total*1e9 in 64 bits
	total := uint64(1) << 60
	elapsed := 1000 * time.Hour
	bps, ok := bandwidth(total, elapsed)
	if !ok {
		t.Fatalf("bandwidth not available")
	}
	want := uint64(float64(total) / elapsed.Seconds())
	if diff := int64(bps - want); diff > 1024 || diff < -1024 {
		t.Errorf("bps=%d, wanted about %d", bps, want)
	}

	bps, _ = bandwidth(math.MaxUint64, time.Nanosecond)
	expectUint(t, "saturated bps", bps, math.MaxUint64)
}

func TestStatsReportCarriesLag(t *testing.T) {
	var s Stats
	now := time.Now()
	s.Start(now)
	s.Record(10)
	s.RecordLag(3 * time.Millisecond)
	s.RecordLag(time.Millisecond)
	s.Stop(now.Add(time.Second))

	r := s.Report()
	if r.MaxLag != 3*time.Millisecond {
		t.Errorf("max lag=%s, wanted 3ms", r.MaxLag)
	}
	expectUint(t, "bps", r.BandwidthBps, 10)
}

func expectUint(t *testing.T, what string, got, wanted uint64) {
	t.Helper()
	if got != wanted {
		t.Errorf("%s=%d, wanted %d", what, got, wanted)
	}
}
