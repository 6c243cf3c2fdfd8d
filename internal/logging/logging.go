package logging

import (
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(access_token|token|secret|password)=[^&\s]+`),
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]+=*`),
}

// Setup configures the global logger. Console output is meant for a terminal;
// JSON output is meant for long running processes.
func Setup(w io.Writer, level string, console bool) {
	if console {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	}
	SetLevel(level)
}

// SetLevel sets the global log level based on configuration
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Component returns a logger tagged with the component name
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// Redact masks credentials in URLs, headers and query strings before they are logged
func Redact(s string) string {
	redacted := s
	for _, pattern := range sensitivePatterns {
		redacted = pattern.ReplaceAllStringFunc(redacted, func(match string) string {
			if i := strings.Index(match, "="); i >= 0 {
				return match[:i+1] + "[REDACTED]"
			}
			return "Bearer [REDACTED]"
		})
	}
	return redacted
}

// MaskToken keeps only the last four characters of a token
func MaskToken(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", 8) + token[len(token)-4:]
}
