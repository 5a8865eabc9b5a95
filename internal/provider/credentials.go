package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/johndauphine/bizsync/internal/config"
)

// Credentials supplies a valid access credential. The core calls it once
// per run and assumes the token remains valid for the run's duration.
type Credentials interface {
	Token(ctx context.Context) (string, error)
}

// StaticCredentials wraps a literal token.
type StaticCredentials string

// Token returns the literal token.
func (s StaticCredentials) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("credential provider: empty access token")
	}
	return string(s), nil
}

// EnvCredentials reads the token from an environment variable.
type EnvCredentials struct {
	Var string
}

// Token returns the token from the environment.
func (e EnvCredentials) Token(ctx context.Context) (string, error) {
	token := strings.TrimSpace(os.Getenv(e.Var))
	if token == "" {
		return "", fmt.Errorf("credential provider: environment variable %s is not set", e.Var)
	}
	return token, nil
}

// promptCredentials asks for the token on the terminal, once.
type promptCredentials struct {
	token string
}

func (p *promptCredentials) Token(ctx context.Context) (string, error) {
	if p.token != "" {
		return p.token, nil
	}
	fmt.Fprint(os.Stderr, "Provider access token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("credential provider: reading token: %w", err)
	}
	p.token = strings.TrimSpace(string(raw))
	if p.token == "" {
		return "", fmt.Errorf("credential provider: empty access token")
	}
	return p.token, nil
}

// CredentialsFromConfig picks a credential source: a literal token from the
// config, then the configured environment variable, then an interactive
// terminal prompt when stdin is a TTY.
func CredentialsFromConfig(cfg *config.ProviderConfig) (Credentials, error) {
	if cfg.AccessToken != "" {
		return StaticCredentials(cfg.AccessToken), nil
	}
	if cfg.TokenEnv != "" && os.Getenv(cfg.TokenEnv) != "" {
		return EnvCredentials{Var: cfg.TokenEnv}, nil
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return &promptCredentials{}, nil
	}
	return nil, fmt.Errorf("credential provider: no access token in config or %s, and stdin is not a terminal", cfg.TokenEnv)
}
