package process

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

// OutputHandler receives output lines from a subprocess. Implementations
// can scan for failure signatures, store metrics, etc.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser parses a log line and returns the log level and message.
// Used to extract structured log info from process output.
type LogParser func(line string) (level, msg string)

// SplitCommand splits a command override string into the binary and its
// arguments. Handles quoted strings and basic escaping, so overrides
// like `yt-dlp --socket-timeout 10` or a quoted path work.
func SplitCommand(command string) (string, []string, error) {
	args, err := splitArgs(command)
	if err != nil {
		return "", nil, err
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("empty command")
	}
	return args[0], args[1:], nil
}

// splitArgs splits a command string into arguments.
// Handles quoted strings and basic escaping.
func splitArgs(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	command = strings.TrimSpace(command)
	runes := []rune(command)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			// Handle escape sequences
			i++ // Skip the backslash
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}

	// Add final argument
	if current.Len() > 0 {
		args = append(args, current.String())
	}

	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}

	return args, nil
}

// exitCodeFromError extracts an exit code from a Wait error. Returns 0
// for nil, the exit code for a normal exit, and 128+signal for a
// signal-terminated process (137 for SIGKILL).
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
	}
	return 1
}
