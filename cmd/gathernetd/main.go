// Command gathernetd is the federation core's composition root: it loads
// configuration, opens storage, wires the delivery pipeline, inbox
// processor, reminder scheduler, realtime broadcaster, and authoring API
// together, and serves HTTP until terminated.
package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/klppl/gathernet/internal/activitypub"
	"github.com/klppl/gathernet/internal/authoring"
	"github.com/klppl/gathernet/internal/config"
	"github.com/klppl/gathernet/internal/delivery"
	"github.com/klppl/gathernet/internal/inbox"
	"github.com/klppl/gathernet/internal/realtime"
	"github.com/klppl/gathernet/internal/reminder"
	"github.com/klppl/gathernet/internal/server"
	"github.com/klppl/gathernet/internal/signing"
	"github.com/klppl/gathernet/internal/store"
)

func main() {
	cfg := config.Load()
	logBroadcaster := server.NewLogBroadcaster(os.Stderr)
	setupLogging(cfg.LogLevel, logBroadcaster)

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		slog.Error("migrate store", "error", err)
		os.Exit(1)
	}

	keyPair, err := signing.LoadOrGenerateKeyPair(cfg.RSAPrivateKeyPath, cfg.RSAPublicKeyPath)
	if err != nil {
		slog.Error("load instance key pair", "error", err)
		os.Exit(1)
	}

	resolver := activitypub.NewResolver(st, cfg.ActorFetchTimeout)
	broadcaster := realtime.NewBroadcaster()

	deliveryPipeline := delivery.NewPipeline(st, cfg.DeliveryWorkers, cfg.DeliveryRetrySchedule, cfg.DeliveryMaxAttempts, cfg.ActivityPOSTTimeout)

	processor := &inbox.Processor{
		Store:       st,
		Resolver:    resolver,
		Delivery:    deliveryPipeline,
		Broadcaster: broadcaster,
		BaseURL:     cfg.BaseURL,
		AutoAccept:  cfg.AutoAcceptFollowers,
		ActivityTTL: cfg.ProcessedActivityTTL,
	}

	authAPI := &authoring.API{
		Store:                 st,
		Resolver:              resolver,
		Delivery:              deliveryPipeline,
		Broadcaster:           broadcaster,
		BaseURL:               cfg.BaseURL,
		TrendingDefaultWindow: cfg.TrendingDefaultWindow,
		TrendingDefaultLimit:  cfg.TrendingDefaultLimit,
		// Session auth and HTML sanitization are deliberately left unset
		// here — they are owned by whatever deployment wraps this binary
		// (reverse proxy auth, or a future first-party auth module) and
		// are wired in by replacing these two fields before Start.
		Viewer:   nil,
		Sanitize: nil,
	}

	scheduler := &reminder.Scheduler{
		Store:        st,
		Broadcaster:  broadcaster,
		TickInterval: cfg.RemindersTickInterval,
	}

	srv := server.New(cfg, st, keyPair, processor, authAPI, broadcaster, nil)
	srv.SetLogBroadcaster(logBroadcaster)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deliveryPipeline.Start(ctx, userKeyResolver(st, keyPair, cfg.BaseURL))
	go scheduler.Start(ctx)
	go srv.Start(ctx)

	slog.Info("gathernetd started", "base_url", cfg.BaseURL)
	<-ctx.Done()
	slog.Info("shutting down")
	deliveryPipeline.Stop()
}

// userKeyResolver resolves a delivery task's sending user to their signing
// identity. A sender id of 0 is the instance service actor, used for
// activities issued by the federation core itself rather than a specific
// local user.
func userKeyResolver(st *store.Store, instanceKey *signing.KeyPair, baseURL string) func(int64) (string, *rsa.PrivateKey, error) {
	return func(senderUserID int64) (string, *rsa.PrivateKey, error) {
		if senderUserID == 0 {
			return baseURL + "/actor#main-key", instanceKey.Private, nil
		}
		u, err := st.GetUserByID(senderUserID)
		if err != nil {
			return "", nil, err
		}
		if u == nil || !u.IsLocal() {
			return "", nil, fmt.Errorf("user %d is not a local signing identity", senderUserID)
		}
		priv, err := signing.ParsePrivatePEM(u.RSAPrivateKeyPEM)
		if err != nil {
			return "", nil, fmt.Errorf("parse private key for user %d: %w", senderUserID, err)
		}
		keyID := activitypub.ActorURL(baseURL, u.Username) + "#main-key"
		return keyID, priv, nil
	}
}

func setupLogging(level string, out io.Writer) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: l})))
}
