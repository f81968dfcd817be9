package pipeline

import "strings"

// ParseEncoderLogLevel extracts the log level from encoder output.
// With -loglevel level the encoder prefixes lines like "[info] message"
// or "[component @ 0x...] [level] message" for component-specific logs.
// Returns the level and the message with the level stripped but the
// component preserved.
func ParseEncoderLogLevel(line string) (level, msg string) {
	if len(line) < 3 || line[0] != '[' {
		return "info", line
	}

	end := strings.Index(line, "] ")
	if end == -1 {
		return "info", line
	}

	bracket := line[1:end]
	if isEncoderLogLevel(bracket) {
		return bracket, line[end+2:]
	}

	// Component prefix form: keep the component, strip only the level.
	component := line[:end+2]
	rest := line[end+2:]
	if len(rest) > 2 && rest[0] == '[' {
		if nextEnd := strings.Index(rest, "] "); nextEnd != -1 {
			nextBracket := rest[1:nextEnd]
			if isEncoderLogLevel(nextBracket) {
				return nextBracket, component + rest[nextEnd+2:]
			}
		}
	}

	return "info", line
}

func isEncoderLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}

// ParseDownloaderLogLevel extracts the log level from downloader output.
// The downloader prefixes diagnostics with "ERROR:" or "WARNING:" and
// progress lines with a bracketed stage like "[download]".
func ParseDownloaderLogLevel(line string) (level, msg string) {
	switch {
	case strings.HasPrefix(line, "ERROR:"):
		return "error", strings.TrimSpace(line[len("ERROR:"):])
	case strings.HasPrefix(line, "WARNING:"):
		return "warning", strings.TrimSpace(line[len("WARNING:"):])
	case strings.HasPrefix(line, "[debug]"):
		return "debug", strings.TrimSpace(line[len("[debug]"):])
	}
	return "info", line
}
