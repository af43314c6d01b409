package kv

import (
	"fmt"
	"net/url"
	"strings"
)

// Scheme returns the lower-cased scheme of a DSN; a bare path has scheme "file".
func Scheme(dsn string) string {
	parsed, err := url.Parse(strings.TrimSpace(dsn))
	if err != nil || parsed.Scheme == "" {
		return "file"
	}
	return strings.ToLower(parsed.Scheme)
}

// Path extracts the filesystem path from a file:// or sqlite:// DSN.
// "sqlite:///var/lib/x.db" and "sqlite://./x.db" are both accepted.
func Path(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	if parsed.Scheme == "" {
		return dsn, nil
	}
	path := parsed.Host + parsed.Path
	if path == "" {
		path = parsed.Opaque
	}
	if path == "" {
		return "", fmt.Errorf("dsn %q has no path", dsn)
	}
	return path, nil
}

// OpenLocal builds the backends that need no external service: memory and
// JSON file. Other schemes return ok=false so the caller can route them to
// a database-backed store.
func OpenLocal(dsn string) (Store, bool, error) {
	switch Scheme(dsn) {
	case "memory", "mem", "inmem":
		return NewMemory(), true, nil
	case "file":
		path, err := Path(dsn)
		if err != nil {
			return nil, true, err
		}
		return NewFile(path), true, nil
	default:
		return nil, false, nil
	}
}
