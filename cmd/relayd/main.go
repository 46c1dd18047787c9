// Command relayd serves the assistant over HTTP and the configured chat
// platforms.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/relay/internal/api"
	"github.com/nidhogg/relay/internal/app"
	"github.com/nidhogg/relay/internal/config"
	"github.com/nidhogg/relay/internal/gateway"
	"github.com/nidhogg/relay/internal/logging"
	"github.com/nidhogg/relay/internal/memory"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// personas controls how each agent appears on Slack and Discord.
var personas = map[string]*gateway.AgentPersona{
	"WeatherAssistant": {Name: "WeatherAssistant", Emoji: ":partly_sunny:"},
	"SearchAssistant":  {Name: "SearchAssistant", Emoji: ":mag:"},
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := serve(cfg, logger); err != nil {
		logger.Fatal("relayd stopped", zap.Error(err))
	}
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting relayd")

	// Register adapters before Build hands the gateway to the router.
	gw := gateway.NewGateway(logger)
	rest := gateway.NewRESTAdapter(gateway.DefaultRESTTimeout, logger)
	gw.Register(rest)

	if cfg.SlackEnabled() {
		slackAdapter := gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.AppToken, logger)
		for name, p := range personas {
			slackAdapter.SetPersona(name, p)
		}
		gw.Register(slackAdapter)
	}
	if cfg.DiscordEnabled() {
		discordAdapter := gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, logger)
		for name, p := range personas {
			discordAdapter.SetPersona(name, p)
		}
		gw.Register(discordAdapter)
	}

	a, err := app.Build(ctx, cfg, gw, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	gw.SetHandler(a.Router.Handle)

	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	handler := api.NewHandler(a.Router, a.Conversation, a.Agents(), a.Runs(), gw, rest, logger)
	if bus := a.Bus(); bus != nil {
		handler.SetEvents(bus)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	janitor := memory.NewJanitor(a.Conversation, cfg.Memory.RetentionDays, cfg.Memory.PurgeInterval.Duration, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("relayd listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return janitor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down relayd")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		gw.Close()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
