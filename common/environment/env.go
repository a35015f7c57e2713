// Package environment provides helpers for loading configuration from environment variables.
//
// Every helper reads one variable and falls back to a default when the
// variable is unset, empty, or unparsable. Required variables return an error
// rather than calling os.Exit, keeping business logic out of library code.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Prefixed joins a prefix and key into a variable name: Prefixed("KIOKU",
// "DB_PATH") is "KIOKU_DB_PATH".
func Prefixed(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}

// String returns the value of the named environment variable and a boolean
// indicating whether it was set (even if set to the empty string).
func String(name string) (string, bool) {
	return os.LookupEnv(name)
}

// StringOr returns the value of the named environment variable, or defaultValue
// if the variable is unset or empty.
func StringOr(name, defaultValue string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultValue
}

// RequiredString returns the value of the named environment variable or an error
// if it is unset or empty.
func RequiredString(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// parseOr applies parse to a non-empty variable and falls back to def.
func parseOr[T any](name string, def T, parse func(string) (T, error)) T {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	out, err := parse(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return out
}

// BoolOr parses the variable with strconv.ParseBool.
func BoolOr(name string, defaultValue bool) bool {
	return parseOr(name, defaultValue, strconv.ParseBool)
}

// IntOr parses the variable as a decimal integer.
func IntOr(name string, defaultValue int) int {
	return parseOr(name, defaultValue, strconv.Atoi)
}

// FloatOr parses the variable as a float64 (e.g. a similarity threshold).
func FloatOr(name string, defaultValue float64) float64 {
	return parseOr(name, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// DurationOr parses the variable as a time.Duration ("30s", "5m", "1h").
func DurationOr(name string, defaultValue time.Duration) time.Duration {
	return parseOr(name, defaultValue, time.ParseDuration)
}

// StringSliceOr parses the named environment variable as a comma-separated list
// of strings, trimming whitespace from each element. Returns defaultValue if the
// variable is unset or holds no non-blank element.
func StringSliceOr(name string, defaultValue []string) []string {
	var result []string
	for _, p := range strings.Split(os.Getenv(name), ",") {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
