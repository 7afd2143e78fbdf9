// Package secrets resolves credential values from the environment, with the
// Docker secrets convention layered on top: a KEY_FILE variable names a file
// whose trimmed contents win over a plain KEY variable. Used for
// BLUESKY_APP_PASSWORD and DISCORD_WEBHOOK_URL so compose files never carry
// credentials inline.
package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Resolve returns the value for key. Precedence: the file named by KEY_FILE,
// then the KEY environment variable, then fallback.
func Resolve(key, fallback string) (string, error) {
	if path := os.Getenv(key + "_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret file %s: %w", path, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	return fallback, nil
}

// ResolveOptional is Resolve for secrets the service can run without; an
// unreadable secret file degrades to the fallback instead of an error.
func ResolveOptional(key, fallback string) string {
	value, err := Resolve(key, fallback)
	if err != nil {
		return fallback
	}
	return value
}
