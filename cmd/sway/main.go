// Command sway runs the sentiment-driven trading engine. It converts a
// periodic fear & greed index into buy/sell swap bundles for one token pair
// and maintains an auditable ledger of positions and profit.
//
// Usage:
//
//	sway --config config.yaml
//
// Required environment variables:
//
//	WALLET_PRIVATE_KEY  base64-encoded ed25519 signing key
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/swaybot/sway/config"
	"github.com/swaybot/sway/dashboard"
	"github.com/swaybot/sway/internal/clients"
	"github.com/swaybot/sway/internal/engine"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	privateKey := os.Getenv("WALLET_PRIVATE_KEY")
	if privateKey == "" {
		log.Fatal("WALLET_PRIVATE_KEY environment variable must be set")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	wallet, err := clients.NewLocalWallet(cfg.Wallet, privateKey, cfg.TipAccount)
	if err != nil {
		logger.Fatal("failed to initialize wallet", zap.Error(err))
	}

	deps := engine.Deps{
		Sentiment: clients.NewSentimentClient(cfg.SentimentURL),
		Pricer:    clients.NewPriceClient(cfg.PriceURL),
		Chain: clients.NewChainClient(cfg.RPCURL, map[string]int{
			cfg.Pair.Base.Mint:  cfg.Pair.Base.Decimals,
			cfg.Pair.Quote.Mint: cfg.Pair.Quote.Decimals,
		}),
		Quotes: clients.NewQuoteClient(cfg.QuoteURL, cfg.Pair, cfg.Wallet),
		Relay:  clients.NewRelayClient(cfg.RelayURL),
		Wallet: wallet,
	}

	eng, err := engine.New(cfg, deps, logger)
	if err != nil {
		logger.Fatal("failed to initialize engine", zap.Error(err))
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(runCtx) })
	if cfg.DashboardAddr != "" {
		srv := dashboard.NewServer(cfg.DashboardAddr, eng, logger)
		g.Go(func() error { return srv.Start(runCtx) })
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("engine stopped", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
