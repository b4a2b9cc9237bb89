package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/usemanusai/openclaw/pkg/openclaw/agent"
	"github.com/usemanusai/openclaw/pkg/openclaw/bridge"
)

// newRunCmd creates the one-shot `run` command: a single prompt through the
// full pipeline, payloads printed as they are emitted.
func newRunCmd() *cobra.Command {
	var sessionKey string

	cmd := &cobra.Command{
		Use:   "run \"prompt\"",
		Short: "Run a single agent turn and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			b, cleanup := buildBridge(cfg, logger)
			defer cleanup()

			req := bridge.Request{
				SessionKey: sessionKey,
				Prompt:     strings.Join(args, " "),
				Source:     "message",
				Deliver: func(p agent.ReplyPayload) {
					printPayload(cmd, p)
				},
				Notify: func(text string) {
					fmt.Fprintln(cmd.ErrOrStderr(), text)
				},
			}

			_, err = b.Invoke(cmd.Context(), req)
			return err
		},
	}

	cmd.Flags().StringVar(&sessionKey, "session", "cli:default", "session key for this run")
	return cmd
}

func printPayload(cmd *cobra.Command, p agent.ReplyPayload) {
	out := cmd.OutOrStdout()
	if p.Text != "" {
		fmt.Fprintln(out, p.Text)
	}
	if p.MediaURL != "" {
		fmt.Fprintln(out, "[media]", p.MediaURL)
	}
	for _, u := range p.MediaURLs {
		fmt.Fprintln(out, "[media]", u)
	}
	if p.Voice {
		fmt.Fprintln(out, "[voice reply requested]")
	}
}
