// args.go builds the subprocess argv for one invocation. The runner always
// forces RPC mode into the final argv; session and reasoning flags are
// injected here, ahead of any trailing positional argument.
package agent

import (
	"strings"
)

const (
	// modeFlag selects the agent's execution mode. The pipeline only works
	// against the line-oriented RPC mode, so the runner forces this flag
	// regardless of what the configured args say.
	modeFlag  = "--mode"
	modeValue = "rpc"

	sessionIDFlag = "--session-id"
	continueFlag  = "--continue"
	thinkFlag     = "--think"
)

// SessionArgs describes the session-related flags for one invocation.
type SessionArgs struct {
	// SessionID is the stable session identifier supplied back to the
	// subprocess on every run of the same session.
	SessionID string

	// Resume adds the continuation flag so the subprocess resumes the
	// existing session instead of starting fresh.
	Resume bool

	// ThinkLevel injects a reasoning-effort flag when set to a non-default
	// level and the configured args don't already carry one.
	ThinkLevel string
}

// BuildArgs assembles the argv for the agent binary: configured extra args
// with session/think flags injected ahead of any trailing positional
// argument. The RPC mode flag itself is forced later by the runner.
func BuildArgs(binary string, extra []string, s SessionArgs) []string {
	var flags []string
	if s.SessionID != "" {
		flags = append(flags, sessionIDFlag, s.SessionID)
		if s.Resume {
			flags = append(flags, continueFlag)
		}
	}
	if s.ThinkLevel != "" && s.ThinkLevel != "default" && !hasFlag(extra, thinkFlag) {
		flags = append(flags, thinkFlag, s.ThinkLevel)
	}

	// Keep a trailing positional (e.g. a prompt placeholder) last.
	split := len(extra)
	if split > 0 && !strings.HasPrefix(extra[split-1], "-") && !isFlagValue(extra, split-1) {
		split--
	}

	argv := make([]string, 0, 1+len(extra)+len(flags))
	argv = append(argv, binary)
	argv = append(argv, extra[:split]...)
	argv = append(argv, flags...)
	argv = append(argv, extra[split:]...)
	return argv
}

// ForceRPCMode returns argv with the execution mode flag set to RPC mode,
// overwriting a config-supplied mode if present and appending one if absent.
func ForceRPCMode(argv []string) []string {
	out := make([]string, len(argv))
	copy(out, argv)

	for i, a := range out {
		if a == modeFlag {
			if i+1 < len(out) {
				out[i+1] = modeValue
				return out
			}
			return append(out, modeValue)
		}
		if strings.HasPrefix(a, modeFlag+"=") {
			out[i] = modeFlag + "=" + modeValue
			return out
		}
	}
	return append(out, modeFlag, modeValue)
}

// hasFlag reports whether args already carries the given flag, in either
// "--flag value" or "--flag=value" form.
func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag || strings.HasPrefix(a, flag+"=") {
			return true
		}
	}
	return false
}

// isFlagValue reports whether args[i] is the value of a preceding flag
// rather than a standalone positional.
func isFlagValue(args []string, i int) bool {
	if i == 0 {
		return false
	}
	prev := args[i-1]
	return strings.HasPrefix(prev, "-") && !strings.Contains(prev, "=")
}
