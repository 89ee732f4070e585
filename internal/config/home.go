package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

type homeKey struct{}

// WithHome stores the proofloop home path in the context.
func WithHome(ctx context.Context, home string) context.Context {
	return context.WithValue(ctx, homeKey{}, home)
}

// HomeFrom returns the proofloop home path from the context, if set.
func HomeFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(homeKey{})
	s, ok := v.(string)
	return s, ok
}

// MustHomeFrom returns the home path from the context. Panics when the root
// command did not resolve one; that is a programming error, not user input.
func MustHomeFrom(ctx context.Context) string {
	home, ok := HomeFrom(ctx)
	if !ok {
		panic("proofloop home not resolved in context")
	}
	return home
}

// ResolveHome returns the proofloop home directory: explicit override,
// PROOFLOOP_HOME, or ~/.proofloop.
func ResolveHome(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	if env := os.Getenv("PROOFLOOP_HOME"); env != "" {
		return filepath.Clean(env), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine user home directory")
	}
	return filepath.Join(home, ".proofloop"), nil
}

// StateDir returns where task state lives under home.
func StateDir(home string) string {
	return filepath.Join(home, "state")
}
