// The gateway command runs the prepaid x402 payment gateway in front of an
// upstream RPC node.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BlockchainCap/bcap-x402-payment-middleware/internal/config"
	"github.com/BlockchainCap/bcap-x402-payment-middleware/internal/gateway"
	"github.com/BlockchainCap/bcap-x402-payment-middleware/internal/ledger"
)

func main() {
	app := &cli.App{
		Name:  "gateway",
		Usage: "prepaid x402 payment gateway for a JSON-RPC node",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the TOML configuration file",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	_ = godotenv.Load()

	logger, err := newLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting x402 prepayment RPC gateway")

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Info("configuration loaded",
		zap.String("node_url", cfg.NodeURL),
		zap.Int("port", cfg.Port),
		zap.Uint64("price_per_request", cfg.PricePerRequest),
		zap.String("network", cfg.Network),
		zap.String("database_backend", cfg.Database.Backend),
		zap.String("payment_address", cfg.PaymentAddress),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	logger.Info("prepayment system initialized", zap.String("facilitator", cfg.FacilitatorURL))

	return gateway.NewServer(cfg, store, logger).Run(ctx)
}

func openLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledger.Ledger, error) {
	switch cfg.Database.Backend {
	case config.BackendDynamoDB:
		return ledger.NewDynamoLedger(ctx, cfg.Database.Table, logger)
	default:
		return ledger.OpenPebble(cfg.Database.Path, logger)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	return cfg.Build()
}
