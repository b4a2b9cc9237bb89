package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/usemanusai/openclaw/pkg/openclaw/agent"
	"github.com/usemanusai/openclaw/pkg/openclaw/bridge"
	"github.com/usemanusai/openclaw/pkg/openclaw/cron"
)

// consoleSessionKey groups everything typed into the serve console into one
// agent session.
const consoleSessionKey = "console:default"

// newServeCmd creates the `serve` command: the long-running process that
// hosts the scheduler and an interactive console.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent pipeline with the scheduler and a console",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(cfg.Store.SessionsFile), 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}

			b, cleanup := buildBridge(cfg, logger)
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cronStore := cron.NewStore(cfg.Store.CronFile, logger)
			if err := cronStore.EnsureLoaded(); err != nil {
				return fmt.Errorf("load cron store: %w", err)
			}

			if cfg.Heartbeat.Enabled {
				_, err := cronStore.Ensure("heartbeat", "heartbeat", "periodic background wakeup",
					cron.Schedule{
						Kind:  cron.KindEvery,
						Every: int64(cfg.Heartbeat.IntervalMinutes),
						Unit:  "m",
					},
					cron.Payload{
						Kind: cron.PayloadSystemEvent,
						Text: cfg.Heartbeat.Text,
					})
				if err != nil {
					logger.Warn("heartbeat setup failed", "err", err)
				}
			}

			scheduler := cron.NewScheduler(cronStore, b.RunCronJob, logger)
			if err := scheduler.Start(ctx); err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}
			defer scheduler.Stop()

			logger.Info("openclaw serving",
				"agent", cfg.Agent.Binary,
				"cron_file", cfg.Store.CronFile)
			fmt.Fprintln(cmd.OutOrStdout(), "Type a prompt and press enter. /stop aborts the current run, /quit exits.")

			consoleLoop(ctx, cmd, b)
			return nil
		},
	}
}

// consoleLoop reads prompts from stdin until EOF, /quit, or ctx cancel.
func consoleLoop(ctx context.Context, cmd *cobra.Command, b *bridge.Bridge) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return
			}
			handleConsoleLine(ctx, cmd, b, strings.TrimSpace(line))
			if strings.TrimSpace(line) == "/quit" {
				return
			}
		}
	}
}

func handleConsoleLine(ctx context.Context, cmd *cobra.Command, b *bridge.Bridge, line string) {
	out := cmd.OutOrStdout()
	switch {
	case line == "", line == "/quit":
		return

	case line == "/stop":
		outcome, err := b.Abort(consoleSessionKey)
		if err != nil {
			fmt.Fprintln(out, "stop failed:", err)
			return
		}
		if outcome.Aborted {
			fmt.Fprintln(out, "🛑 Stopping the current run.")
		} else {
			fmt.Fprintln(out, "No run in progress; the next run will be stopped.")
		}

	default:
		_, err := b.Invoke(ctx, bridge.Request{
			SessionKey: consoleSessionKey,
			Prompt:     line,
			Source:     "message",
			Deliver: func(p agent.ReplyPayload) {
				printPayload(cmd, p)
			},
			Notify: func(text string) {
				fmt.Fprintln(out, text)
			},
		})
		if err != nil {
			fmt.Fprintln(out, "run failed:", err)
		}
	}
}
