// Command relay is the interactive terminal front end of the assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/nidhogg/relay/internal/app"
	"github.com/nidhogg/relay/internal/config"
	"github.com/nidhogg/relay/internal/logging"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "optional JSON config file")
	session := flag.String("session", "", "session id to resume (default: new session)")
	user := flag.String("user", os.Getenv("USER"), "user name shown to commands")
	flag.Parse()

	if err := run(*cfgPath, *session, *user); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath, sessionID, user string) error {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		var cerr *config.Error
		if errors.As(err, &cerr) {
			msg := "Configuration error:\n"
			for _, p := range cerr.Problems {
				msg += "  - " + p + "\n"
			}
			return errors.New(msg + "\nPlease set up your .env file with required API keys.\nSee .env.example for reference.")
		}
		return err
	}

	logger, err := logging.NewFileOnly(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	fmt.Println("Initializing assistant...")
	a, err := app.Build(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("assistant initialization failed", zap.Error(err))
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer a.Close()
	fmt.Println("Assistant initialized successfully!")

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	t := &terminal{
		proc:       a.Router,
		in:         os.Stdin,
		out:        os.Stdout,
		sessionID:  sessionID,
		user:       user,
		interrupts: interrupts,
		logger:     logger.With(zap.String("session", sessionID)),
	}
	return t.run(ctx)
}
