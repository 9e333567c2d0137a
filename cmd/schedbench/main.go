package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/djlord-it/schedbench/internal/cli"
	"github.com/djlord-it/schedbench/internal/config"
	"github.com/djlord-it/schedbench/internal/engine"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := cli.Parse(args)
	if errors.Is(err, cli.ErrUsage) {
		fmt.Fprintln(os.Stderr, cli.Usage)
		return exitRuntimeError
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}

	fmt.Println("Properties file: " + opts.PropsPath)

	cfg, err := config.Load(opts.PropsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	logConfigWarnings(&cfg, opts)
	if data, err := cfg.MaskedJSON(); err == nil {
		log.Printf("schedbench: %s (commit %s) effective config: %s", version, commit, data)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize scheduler: %v\n", err)
		return exitRuntimeError
	}
	eng.RegisterJob(benchJobType, newBenchJob(os.Stdout, time.Local))

	ctx := context.Background()

	if opts.ShouldSchedule() {
		fmt.Println(opts.Describe())
		if err := eng.Clear(ctx); err != nil {
			return fail(eng, err)
		}
		job, trig := benchSchedule(opts, time.Now())
		if _, err := eng.ScheduleJob(ctx, job, trig); err != nil {
			return fail(eng, err)
		}
	}

	if err := eng.Start(ctx); err != nil {
		return fail(eng, err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("schedbench: received signal %v, shutting down", received)
	if err := eng.Shutdown(true); err != nil {
		log.Printf("schedbench: shutdown error: %v", err)
		return exitRuntimeError
	}
	return exitSuccess
}

func fail(eng *engine.Engine, err error) int {
	fmt.Fprintf(os.Stderr, "%v\n", err)
	if serr := eng.Shutdown(false); serr != nil {
		log.Printf("schedbench: shutdown error: %v", serr)
	}
	return exitRuntimeError
}
