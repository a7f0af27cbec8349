package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaos-io/chromakey/chroma"
	"github.com/chaos-io/chromakey/server"
)

const usage = `Remove a magenta (#FF00FF) background from an image.

Usage:
  chromakey input.png output.png
  chromakey input.png            # saves to input_transparent.png
  chromakey -serve :8080         # run the HTTP service
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := server.DefaultConfig()

	fs := flag.NewFlagSet("chromakey", flag.ContinueOnError)
	fs.SetOutput(stderr)
	serve := fs.String("serve", "", "listen address; runs the HTTP service instead of a one-shot conversion")
	results := fs.String("results", defaults.ResultsDir, "directory for HTTP service results")
	ttl := fs.Duration("ttl", defaults.TTL, "how long HTTP service results are kept")
	purge := fs.String("purge", defaults.PurgeSpec, "cron schedule for purging expired results")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Usage = func() {
		_, _ = fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	if *serve != "" {
		return runServer(server.Config{
			Addr:       *serve,
			ResultsDir: *results,
			TTL:        *ttl,
			PurgeSpec:  *purge,
		}, stderr)
	}

	rest := fs.Args()
	if len(rest) < 1 {
		_, _ = fmt.Fprint(stdout, usage)
		return 1
	}

	input, output := rest[0], ""
	if len(rest) > 1 {
		output = rest[1]
	}

	saved, err := chroma.RemoveBackground(input, output)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "Saved: %s\n", saved)
	return 0
}

func runServer(cfg server.Config, stderr io.Writer) int {
	s, err := server.New(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
