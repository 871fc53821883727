package secret

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ProviderEnv is the reference kind resolved from environment variables.
const ProviderEnv = "env"

// secretNameHints marks environment variable names worth listing as
// probable secrets.
var secretNameHints = []string{
	"SECRET", "TOKEN", "KEY", "PASSWORD", "PASSWD", "CREDENTIAL", "AUTH",
}

// EnvProvider resolves ${env:NAME} references from the process
// environment. It is read-only.
type EnvProvider struct{}

func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) Handles(provider string) bool {
	return provider == ProviderEnv
}

func (p *EnvProvider) Resolve(_ context.Context, ref Ref) (string, error) {
	if !p.Handles(ref.Provider) {
		return "", fmt.Errorf("env provider cannot resolve %q references", ref.Provider)
	}
	value := os.Getenv(ref.Key)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not found or empty", ref.Key)
	}
	return value, nil
}

func (p *EnvProvider) Store(_ context.Context, _ Ref, _ string) error {
	return fmt.Errorf("env provider does not support storing secrets")
}

func (p *EnvProvider) Delete(_ context.Context, _ Ref) error {
	return fmt.Errorf("env provider does not support deleting secrets")
}

// List scans the environment for variables whose names suggest a
// secret. Values are never inspected.
func (p *EnvProvider) List(_ context.Context) ([]Ref, error) {
	var refs []Ref
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !looksLikeSecretName(name) {
			continue
		}
		refs = append(refs, Ref{
			Provider: ProviderEnv,
			Key:      name,
			Raw:      "${env:" + name + "}",
		})
	}
	return refs, nil
}

func (p *EnvProvider) Available() bool {
	return true
}

func looksLikeSecretName(name string) bool {
	upper := strings.ToUpper(name)
	for _, hint := range secretNameHints {
		if strings.Contains(upper, hint) {
			return true
		}
	}
	return false
}
