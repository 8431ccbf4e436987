package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"claimbridge/config"
	"claimbridge/core"
	"claimbridge/observability/logging"
	telemetry "claimbridge/observability/otel"
	"claimbridge/rpc"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "claimd token: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "claimd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = strings.TrimSpace(os.Getenv("CLAIMBRIDGE_ENV"))
	}
	logger := logging.SetupWithOptions("claimd", env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "claimd",
			Environment: env,
			Mode:        cfg.Mode,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	node, err := core.NewNode(cfg, logger)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Warn("node close failed", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := node.Run(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// issueToken prints an RPC bearer token signed with the configured secret.
func issueToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	subject := fs.String("subject", "", "Hex address the token speaks for")
	scopes := fs.String("scopes", "", "Comma-separated scopes (attestor, governance, operator, minter)")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime; zero never expires")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !ethcommon.IsHexAddress(*subject) {
		return fmt.Errorf("subject must be a hex address")
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	var list []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		return fmt.Errorf("at least one scope required")
	}
	auth := rpc.NewAuthenticator(config.ResolveSecret(cfg.Auth.JWTSecret, cfg.Auth.JWTSecretEnv), cfg.Auth.Issuer)
	token, err := auth.Issue(ethcommon.HexToAddress(*subject), list, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
