package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"

	"netperf/engine"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	//Read config from .env; a missing file leaves the defaults in place
	envFile := envFileArg(args)
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("Error loading %s file: %v", envFile, err)
		return 2
	}

	app, err := configFromEnv(os.Getenv)
	if err != nil {
		log.Printf("Error while reading the environment: %v", err)
		return 2
	}

	fs := flag.NewFlagSet("netperf", flag.ContinueOnError)
	if err := app.parseFlags(fs, args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		log.Printf("%v", err)
		return 2
	}

	//Number of CPU can use
	if app.numProcs > 0 {
		runtime.GOMAXPROCS(app.numProcs)
	}

	log.Printf("netperf: %s", app.cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report, err := engine.New(app.cfg, nil).Run(ctx)
	if report != nil {
		fmt.Print(report)
	}
	if err != nil {
		if engine.IsFatal(err) {
			log.Printf("netperf: fatal: %v", err)
		} else {
			log.Printf("netperf: %v", err)
		}
		return 1
	}
	return 0
}
