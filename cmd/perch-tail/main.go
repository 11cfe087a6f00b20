// ABOUTME: Tails gateway dispatch events to the terminal — connects shards from a config file.
// ABOUTME: Usage: perch-tail [-config perch.yaml] [-types MESSAGE_CREATE,GUILD_CREATE]

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/perch/config"
	"github.com/2389/perch/events"
	"github.com/2389/perch/gateway"
	"github.com/2389/perch/ratelimit"
	"github.com/2389/perch/shard"
	"github.com/2389/perch/transport"
)

func main() {
	configPath := flag.String("config", "perch.yaml", "Path to configuration file")
	types := flag.String("types", "", "Comma-separated dispatch types to show (empty = all)")
	flag.Parse()

	if err := run(*configPath, *types); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, types string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	limiter := ratelimit.NewManager(ratelimit.Config{
		MaxBuckets:    cfg.RateLimit.MaxBuckets,
		GlobalLimit:   cfg.RateLimit.GlobalLimit,
		GlobalWindow:  cfg.RateLimit.GlobalWindow,
		IdentifyEvery: cfg.RateLimit.IdentifyEvery,
		Logger:        logger,
	})

	shards, err := shard.NewManager(shard.Config{
		Token:                  cfg.Token,
		GatewayURL:             cfg.Gateway.URL,
		ShardCount:             cfg.Gateway.ShardCount,
		Intents:                cfg.Gateway.Intents,
		Dialer:                 &transport.WebsocketDialer{},
		Limiter:                limiter,
		Logger:                 logger,
		HelloTimeout:           cfg.Gateway.HelloTimeout,
		IdentifyTimeout:        cfg.Gateway.IdentifyTimeout,
		MaxConsecutiveFailures: cfg.Gateway.MaxConsecutiveFailures,
		Backoff: gateway.Backoff{
			Base:       cfg.Gateway.Backoff.Base,
			Cap:        cfg.Gateway.Backoff.Cap,
			Multiplier: cfg.Gateway.Backoff.Multiplier,
			Jitter:     cfg.Gateway.Backoff.Jitter,
		},
	})
	if err != nil {
		return fmt.Errorf("creating shard manager: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var filter []string
	if types != "" {
		filter = strings.Split(types, ",")
	}
	ch, _ := shards.Broadcaster().Subscribe(ctx, filter...)

	go printEvents(ch)

	return shards.Run(ctx)
}

// printEvents renders the event stream until the channel closes.
func printEvents(ch <-chan *events.Event) {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	for ev := range ch {
		switch ev.Kind {
		case events.KindLifecycle:
			c := yellow
			if ev.Phase == events.PhaseConnected {
				c = green
			}
			if ev.Phase == events.PhaseDisconnected {
				c = color.New(color.FgRed)
			}
			c.Printf("[shard %d] %s", ev.Shard, ev.Phase)
			if ev.Reason != "" {
				fmt.Printf(" (%s)", ev.Reason)
			}
			fmt.Println()

		case events.KindDispatch:
			cyan.Printf("[shard %d] %s seq=%d ", ev.Shard, ev.Type, ev.Sequence)
			fmt.Println(truncate(string(ev.Data), 120))
		}
	}
}

// truncate shortens s for single-line display.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
