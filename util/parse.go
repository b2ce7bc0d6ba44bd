package util

import (
	"os"
	"strings"
)

// ReadFileString reads a file and returns its contents as a string.
func ReadFileString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseAssignments parses "Key = Value" pairs separated by commas or newlines,
// the layout sedutil-cli uses for its feature descriptors. Lines without "="
// are ignored; later keys overwrite earlier ones.
func ParseAssignments(out string) map[string]string {
	m := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		for _, pair := range strings.Split(line, ",") {
			key, val, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			m[key] = strings.TrimSpace(val)
		}
	}
	return m
}

// GiB converts a size in gibibytes to bytes.
func GiB(n int) uint64 {
	if n <= 0 {
		return 0
	}
	return uint64(n) << 30
}
