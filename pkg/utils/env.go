package utils

import (
	"os"
	"strings"
)

// EnvOr returns the trimmed value of name, or fallback when it is unset or blank.
func EnvOr(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}

	return fallback
}
