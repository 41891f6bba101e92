package main

import (
	"flag"
	"io"
	"testing"
	"time"

	"netperf/engine"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestConfigFromEnvDefaults(t *testing.T) {
	a, err := configFromEnv(envOf(nil))
	if err != nil {
		t.Fatalf("configFromEnv: %v", err)
	}
	def := engine.DefaultConfig()
	if a.cfg != def {
		t.Errorf("empty environment: %+v, wanted %+v", a.cfg, def)
	}
}

func TestConfigFromEnv(t *testing.T) {
	a, err := configFromEnv(envOf(map[string]string{
		"MODE":            "client",
		"PROTO":           "UDP",
		"DEST_IP":         "10.0.0.2",
		"DEST_PORT":       "5001",
		"SRC_IP":          "10.0.0.1",
		"PACKET_SIZE":     "1400",
		"TOTAL_DURATION":  "30",
		"REPORT_INTERVAL": "500ms",
		"MAX_SPEED":       "100",
		"COUNT":           "1000",
		"PAYLOAD":         "random",
		"SOCK_BUF":        "2097152",
		"MAX_PROCS":       "2",
	}))
	if err != nil {
		t.Fatalf("configFromEnv: %v", err)
	}
	c := a.cfg
	if c.Role != engine.Client || c.Proto != engine.UDP {
		t.Errorf("role=%s proto=%s", c.Role, c.Proto)
	}
	if c.Address != "10.0.0.2" || c.Port != 5001 || c.LocalAddr != "10.0.0.1:0" {
		t.Errorf("addresses: %q %d %q", c.Address, c.Port, c.LocalAddr)
	}
	if c.PacketSize != 1400 || c.Count != 1000 || c.Payload != "random" || c.SockBuf != 2097152 {
		t.Errorf("sizes: %+v", c)
	}
	if c.Duration != 30*time.Second || c.ReportInterval != 500*time.Millisecond {
		t.Errorf("durations: %s %s", c.Duration, c.ReportInterval)
	}
	if c.MaxSpeed != 100 || a.numProcs != 2 {
		t.Errorf("speed=%v procs=%d", c.MaxSpeed, a.numProcs)
	}
}

func TestConfigFromEnvErrors(t *testing.T) {
	for _, env := range []map[string]string{
		{"MODE": "peer"},
		{"DEST_PORT": "http"},
		{"PACKET_SIZE": "-1"},
		{"TOTAL_DURATION": "soon"},
		{"MAX_SPEED": "fast"},
		{"COUNT": "many"},
	} {
		if _, err := configFromEnv(envOf(env)); err == nil {
			t.Errorf("configFromEnv(%v) accepted", env)
		}
	}
}

func parse(t *testing.T, a *app, args ...string) error {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return a.parseFlags(fs, args)
}

func TestFlagsOverrideEnv(t *testing.T) {
	a, _ := configFromEnv(envOf(map[string]string{"TOTAL_DURATION": "30", "DEST_PORT": "5001"}))
	if err := parse(t, &a, "-client", "-quic", "-i", "192.168.1.5", "-p", "7000", "-z", "1200", "-count", "9"); err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	c := a.cfg
	if c.Role != engine.Client || c.Proto != engine.QUIC {
		t.Errorf("role=%s proto=%s", c.Role, c.Proto)
	}
	if c.Address != "192.168.1.5" || c.Port != 7000 || c.PacketSize != 1200 || c.Count != 9 {
		t.Errorf("flags not applied: %+v", c)
	}
	// -time not given: the environment duration stays
	if c.Duration != 30*time.Second {
		t.Errorf("duration=%s, wanted 30s", c.Duration)
	}

	if err := parse(t, &a, "-time", "0"); err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if a.cfg.Duration != 0 {
		t.Errorf("-time 0 left duration %s", a.cfg.Duration)
	}
}

func TestFlagConflicts(t *testing.T) {
	for _, args := range [][]string{
		{"-client", "-server"},
		{"-tcp", "-udp"},
		{"-p", "70000"},
		{"-nosuchflag"},
	} {
		a, _ := configFromEnv(envOf(nil))
		if err := parse(t, &a, args...); err == nil {
			t.Errorf("parseFlags(%v) accepted", args)
		}
	}
}

func TestEnvFileArg(t *testing.T) {
	cases := map[string][]string{
		".env":     {"-client"},
		"prod.env": {"-env", "prod.env"},
		"a.env":    {"-client", "-env=a.env"},
		"b.env":    {"--env=b.env"},
	}
	for want, args := range cases {
		if got := envFileArg(args); got != want {
			t.Errorf("envFileArg(%v)=%q, wanted %q", args, got, want)
		}
	}
}

func TestDefaultTimeUnit(t *testing.T) {
	for in, want := range map[string]string{"": "", "5": "5s", "5m": "5m", "250ms": "250ms"} {
		if got := defaultTimeUnit(in); got != want {
			t.Errorf("defaultTimeUnit(%q)=%q, wanted %q", in, got, want)
		}
	}
}
