package main

import (
	"flag"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"

	"netperf/engine"
)

type app struct {
	cfg      engine.Config
	numProcs int
	envFile  string
}

// configFromEnv reads the keys of the .env file (already loaded into the
// process environment) on top of the engine defaults. Unset keys keep
// their default.
func configFromEnv(getenv func(string) string) (app, error) {
	a := app{cfg: engine.DefaultConfig()}
	var err error

	if v := getenv("MODE"); v != "" {
		if a.cfg.Role, err = parseRole(v); err != nil {
			return a, err
		}
	}
	if v := getenv("PROTO"); v != "" {
		a.cfg.Proto = engine.Proto(strings.ToLower(v))
	}
	a.cfg.Address = getenv("DEST_IP")
	if v := getenv("DEST_PORT"); v != "" {
		port, errPort := strconv.ParseUint(v, 10, 32)
		if errPort != nil {
			return a, errors.Wrapf(errPort, "DEST_PORT %q", v)
		}
		a.cfg.Port = uint32(port)
	}
	if ip := getenv("SRC_IP"); ip != "" || getenv("SRC_PORT") != "" {
		a.cfg.LocalAddr = ip + ":" + defaultString(getenv("SRC_PORT"), "0")
	}
	if v := getenv("PACKET_SIZE"); v != "" {
		size, errSize := strconv.ParseUint(v, 10, 32)
		if errSize != nil {
			return a, errors.Wrapf(errSize, "PACKET_SIZE %q", v)
		}
		a.cfg.PacketSize = uint32(size)
	}
	if a.cfg.Duration, err = envDuration(getenv, "TOTAL_DURATION", a.cfg.Duration); err != nil {
		return a, err
	}
	if a.cfg.ReportInterval, err = envDuration(getenv, "REPORT_INTERVAL", a.cfg.ReportInterval); err != nil {
		return a, err
	}
	if a.cfg.IdleTimeout, err = envDuration(getenv, "IDLE_TIMEOUT", a.cfg.IdleTimeout); err != nil {
		return a, err
	}
	if v := getenv("MAX_SPEED"); v != "" {
		if a.cfg.MaxSpeed, err = strconv.ParseFloat(v, 64); err != nil { //equals 0 means unlimited
			return a, errors.Wrapf(err, "MAX_SPEED %q", v)
		}
	}
	if v := getenv("COUNT"); v != "" {
		if a.cfg.Count, err = strconv.ParseUint(v, 10, 64); err != nil {
			return a, errors.Wrapf(err, "COUNT %q", v)
		}
	}
	if v := getenv("PAYLOAD"); v != "" {
		a.cfg.Payload = v
	}
	if v := getenv("SOCK_BUF"); v != "" {
		if a.cfg.SockBuf, err = strconv.Atoi(v); err != nil {
			return a, errors.Wrapf(err, "SOCK_BUF %q", v)
		}
	}
	if v := getenv("MAX_PROCS"); v != "" {
		if a.numProcs, err = strconv.Atoi(v); err != nil {
			return a, errors.Wrapf(err, "MAX_PROCS %q", v)
		}
	}
	return a, nil
}

// parseFlags lets the command line override the environment.
func (a *app) parseFlags(fs *flag.FlagSet, args []string) error {
	var (
		client, server     bool
		tcp, udp, quicMode bool
		seconds            uint64
	)
	port := uint64(a.cfg.Port)
	size := uint64(a.cfg.PacketSize)

	fs.BoolVar(&client, "client", false, "run in client mode")
	fs.BoolVar(&server, "server", false, "run in server mode")
	fs.BoolVar(&tcp, "tcp", false, "use TCP")
	fs.BoolVar(&udp, "udp", false, "use UDP")
	fs.BoolVar(&quicMode, "quic", false, "use QUIC")
	fs.Uint64Var(&port, "p", port, "port to use")
	fs.StringVar(&a.cfg.Address, "i", a.cfg.Address, "ip address to connect to (client) or bind (server)")
	fs.Uint64Var(&size, "z", size, "size of the sent packet [bytes]")
	fs.Uint64Var(&seconds, "time", uint64(a.cfg.Duration/time.Second), "how long the test runs [seconds], 0 = until interrupted")
	fs.Uint64Var(&a.cfg.Count, "count", a.cfg.Count, "packets per session, 0 = unbounded")
	fs.StringVar(&a.cfg.Payload, "payload", a.cfg.Payload, "payload: pattern, random or file:<path>")
	fs.StringVar(&a.envFile, "env", ".env", "environment file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if client && server {
		return errors.New("-client and -server are mutually exclusive")
	}
	if client {
		a.cfg.Role = engine.Client
	}
	if server {
		a.cfg.Role = engine.Server
	}

	switch {
	case countTrue(tcp, udp, quicMode) > 1:
		return errors.New("choose only one of -tcp, -udp, -quic")
	case tcp:
		a.cfg.Proto = engine.TCP
	case udp:
		a.cfg.Proto = engine.UDP
	case quicMode:
		a.cfg.Proto = engine.QUIC
	}

	if port > 65535 {
		return errors.Errorf("port %d out of range", port)
	}
	a.cfg.Port = uint32(port)
	if size > 1<<32-1 {
		return errors.Errorf("packet size %d out of range", size)
	}
	a.cfg.PacketSize = uint32(size)

	// a duration given in the environment is kept unless -time is set
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "time" {
			a.cfg.Duration = time.Duration(seconds) * time.Second
		}
	})
	return nil
}

func parseRole(s string) (engine.Role, error) {
	switch strings.ToLower(s) {
	case "server":
		return engine.Server, nil
	case "client":
		return engine.Client, nil
	}
	return engine.Server, errors.Errorf("unknown MODE %q", s)
}

func envDuration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(defaultTimeUnit(v))
	if err != nil {
		return def, errors.Wrapf(err, "bad %s", key)
	}
	return d, nil
}

//Convert default time unit
func defaultTimeUnit(s string) string {
	if len(s) < 1 {
		return s
	}
	if unicode.IsDigit(rune(s[len(s)-1])) {
		return s + "s"
	}
	return s
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func countTrue(bs ...bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

// envFileArg finds -env before the flag set is parsed, since the file has
// to be loaded before the environment provides the flag defaults.
func envFileArg(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "-env" || arg == "--env":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(arg, "-env="):
			return strings.TrimPrefix(arg, "-env=")
		case strings.HasPrefix(arg, "--env="):
			return strings.TrimPrefix(arg, "--env=")
		}
	}
	return ".env"
}
