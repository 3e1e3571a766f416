// The anhelo command plays an HLS source by demuxing it into H.264 NAL units
// and feeding them to a placeholder decoder.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/1jammer1/anhelo/internal/decoder"
	"github.com/1jammer1/anhelo/internal/fetch"
	"github.com/1jammer1/anhelo/internal/resolver"
	"github.com/1jammer1/anhelo/internal/server"
	"github.com/1jammer1/anhelo/internal/stream"
)

const (
	version = "1.0.0"
)

func main() {
	var (
		pollInterval = flag.Duration("poll-interval", 500*time.Millisecond, "Playlist refresh interval")
		timeout      = flag.Duration("timeout", 10*time.Second, "HTTP fetch timeout")
		quality      = flag.String("quality", "lowest", "Variant selection: 'lowest', 'highest' or a bandwidth cap in bits/s")
		maxFrames    = flag.Int("max-frames", 0, "Stop after this many frames (0 = run until interrupted)")
		statusPort   = flag.Int("status-port", 0, "Serve /health session stats on this port (0 = disabled)")
		clientID     = flag.String("client-id", "", "Override the Twitch GraphQL client id")
		verbose      = flag.Bool("verbose", false, "Enable verbose logging")
		showVersion  = flag.Bool("version", false, "Show version and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "anhelo - HLS to H.264 demuxer v%s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <playlist-url | channel>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Arguments:\n")
		fmt.Fprintf(os.Stderr, "  <playlist-url | channel>    Media/master playlist URL or Twitch channel name\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s https://example.com/live.m3u8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --quality highest https://example.com/master.m3u8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --max-frames 300 somechannel\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("anhelo v%s\n", version)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: playlist URL or channel name is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	input := flag.Arg(0)

	if *pollInterval <= 0 {
		fmt.Fprintf(os.Stderr, "Error: poll interval must be positive\n")
		os.Exit(1)
	}
	if *statusPort < 0 || *statusPort > 65535 {
		fmt.Fprintf(os.Stderr, "Error: status port must be between 0 and 65535\n")
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	logger.Info("anhelo starting", "version", version)

	err := run(input, *quality, *clientID, *pollInterval, *timeout, *maxFrames, *statusPort, logger)
	switch {
	case err == nil, errors.Is(err, stream.ErrStopped), errors.Is(err, context.Canceled):
		logger.Info("anhelo stopped")
	default:
		logger.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run(input, quality, clientID string, pollInterval, timeout time.Duration, maxFrames, statusPort int, logger *slog.Logger) error {
	strategy, err := resolver.ParseStrategy(quality)
	if err != nil {
		return err
	}

	client := fetch.NewClient(fetch.WithTimeout(timeout))

	resolverOpts := []resolver.Option{resolver.WithStrategy(strategy)}
	if clientID != "" {
		resolverOpts = append(resolverOpts, resolver.WithClientID(clientID))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal", "signal", sig)
		cancel()
	}()

	logger.Info("resolving input", "input", input)
	playlistURL, err := resolver.New(client, logger, resolverOpts...).Resolve(ctx, input)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", input, err)
	}

	sinkOpts := []decoder.Option{}
	if maxFrames > 0 {
		sinkOpts = append(sinkOpts, decoder.WithMaxFrames(maxFrames))
	}
	sink := decoder.New(logger, sinkOpts...)

	session := stream.New(client, sink, logger, stream.WithPollInterval(pollInterval))

	if statusPort > 0 {
		srv := server.New(session, statusPort, logger)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("status server shutdown error", "error", err)
			}
		}()
	}

	err = session.Run(ctx, playlistURL)

	if dims, ok := sink.Dimensions(); ok {
		logger.Info("playback summary",
			"frames", sink.Frames(),
			"width", dims.Width,
			"height", dims.Height,
		)
	} else {
		logger.Info("playback summary", "frames", sink.Frames(), "dimensions", "unknown")
	}
	return err
}
