package middleware

import (
	"context"
	"strings"

	"github.com/injoint/joint/internal/v1/logging"
)

// SplitOrigins parses a comma-separated CORS origin list, falling back to
// defaults when raw is empty.
func SplitOrigins(raw string, defaults ...string) []string {
	if raw == "" {
		logging.Warn(context.Background(), "no allowed origins configured, using defaults")
		return defaults
	}
	return strings.Split(raw, ",")
}
