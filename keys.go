package redstash

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// validateKey enforces the simple-filename rule at every public entry
// point: non-empty, no '/', no leading '.'. Hidden names are reserved
// for in-flight temp files.
func validateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case strings.HasPrefix(key, "."):
		return fmt.Errorf("%w: %q starts with '.'", ErrInvalidKey, key)
	case strings.Contains(key, "/"):
		return fmt.Errorf("%w: %q contains '/'", ErrInvalidKey, key)
	}
	return nil
}

// pathFor maps a validated key to its on-disk location.
func (c *Cache) pathFor(key string) string {
	return filepath.Join(c.dir, key)
}

// nowMillis is the millisecond timestamp used for access-time scores.
// Scores only order entries relative to each other, so wall-clock
// milliseconds are sufficient across hosts.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
