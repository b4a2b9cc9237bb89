// setup.go holds the shared wiring used by the run/serve/schedule commands:
// config + logger resolution and pipeline construction.
package commands

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/usemanusai/openclaw/pkg/openclaw/agent"
	"github.com/usemanusai/openclaw/pkg/openclaw/bridge"
	"github.com/usemanusai/openclaw/pkg/openclaw/channels"
	"github.com/usemanusai/openclaw/pkg/openclaw/config"
	"github.com/usemanusai/openclaw/pkg/openclaw/history"
	"github.com/usemanusai/openclaw/pkg/openclaw/session"
)

// loadConfig resolves the config file and builds the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	// A missing .env is fine; values already in the environment win.
	_ = godotenv.Load()

	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch {
	case verbose, cfg.Logging.Level == "debug":
		level = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		level = slog.LevelWarn
	case cfg.Logging.Level == "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return cfg, slog.New(handler), nil
}

// buildBridge wires the full pipeline. The returned cleanup closes the
// history store.
func buildBridge(cfg *config.Config, logger *slog.Logger) (*bridge.Bridge, func()) {
	runner := agent.NewRunner(logger)
	queue := agent.NewCommandQueue(cfg.Queue, runner.Run, logger)

	sessions := session.NewRegistry(session.NewStore(cfg.Store.SessionsFile, logger), logger)

	var hist *history.Store
	if cfg.Store.HistoryFile != "" {
		h, err := history.Open(cfg.Store.HistoryFile, logger)
		if err != nil {
			logger.Warn("run history disabled", "err", err)
		} else {
			hist = h
		}
	}

	manager := channels.NewManager()
	b := bridge.New(cfg, queue, sessions, hist, manager, logger)

	cleanup := func() {
		if hist != nil {
			hist.Close()
		}
	}
	return b, cleanup
}
