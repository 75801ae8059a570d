package util

import (
	"fmt"
	"os"
	"strings"
)

// LoadPrompt reads a prompt override from path. An empty path yields fallback.
func LoadPrompt(path, fallback string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return fallback, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("prompt %q: %w", path, err)
	}
	p := strings.TrimSpace(string(b))
	if p == "" {
		return "", fmt.Errorf("prompt %q is empty", path)
	}
	return p, nil
}
