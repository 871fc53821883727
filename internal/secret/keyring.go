package secret

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	// ProviderKeyring is the reference kind backed by the OS keyring.
	ProviderKeyring = "keyring"

	// keyringService namespaces our entries in the OS keyring.
	keyringService = "taskmcp"

	// registryEntry tracks stored names; go-keyring cannot enumerate.
	registryEntry = "_taskmcp_secret_registry"
)

// KeyringProvider stores secrets in the OS credential store: Keychain
// on macOS, Secret Service on Linux, WinCred on Windows.
type KeyringProvider struct {
	service string
}

func NewKeyringProvider() *KeyringProvider {
	return &KeyringProvider{service: keyringService}
}

func (p *KeyringProvider) Handles(provider string) bool {
	return provider == ProviderKeyring
}

func (p *KeyringProvider) Resolve(_ context.Context, ref Ref) (string, error) {
	if !p.Handles(ref.Provider) {
		return "", fmt.Errorf("keyring provider cannot resolve %q references", ref.Provider)
	}
	value, err := keyring.Get(p.service, ref.Key)
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s from keyring: %w", ref.Key, err)
	}
	return value, nil
}

func (p *KeyringProvider) Store(_ context.Context, ref Ref, value string) error {
	if !p.Handles(ref.Provider) {
		return fmt.Errorf("keyring provider cannot store %q references", ref.Provider)
	}
	if err := keyring.Set(p.service, ref.Key, value); err != nil {
		return fmt.Errorf("failed to store secret %s in keyring: %w", ref.Key, err)
	}

	names := p.registeredNames()
	if !slices.Contains(names, ref.Key) {
		if err := p.saveRegistry(append(names, ref.Key)); err != nil {
			return fmt.Errorf("failed to update secret registry: %w", err)
		}
	}
	return nil
}

func (p *KeyringProvider) Delete(_ context.Context, ref Ref) error {
	if !p.Handles(ref.Provider) {
		return fmt.Errorf("keyring provider cannot delete %q references", ref.Provider)
	}
	if err := keyring.Delete(p.service, ref.Key); err != nil {
		return fmt.Errorf("failed to delete secret %s from keyring: %w", ref.Key, err)
	}

	names := p.registeredNames()
	if i := slices.Index(names, ref.Key); i >= 0 {
		if err := p.saveRegistry(slices.Delete(names, i, i+1)); err != nil {
			return fmt.Errorf("failed to update secret registry: %w", err)
		}
	}
	return nil
}

// List returns every name this tool has stored, via the registry entry.
func (p *KeyringProvider) List(_ context.Context) ([]Ref, error) {
	refs := []Ref{}
	for _, name := range p.registeredNames() {
		refs = append(refs, Ref{
			Provider: ProviderKeyring,
			Key:      name,
			Raw:      "${keyring:" + name + "}",
		})
	}
	return refs, nil
}

// Available probes the keyring with a throwaway round trip. Headless
// Linux without a Secret Service daemon fails here.
func (p *KeyringProvider) Available() bool {
	const probe = "_taskmcp_availability_probe"
	if err := keyring.Set(p.service, probe, "ok"); err != nil {
		return false
	}
	if _, err := keyring.Get(p.service, probe); err != nil {
		return false
	}
	_ = keyring.Delete(p.service, probe)
	return true
}

// registeredNames reads the newline-joined registry entry. A missing
// registry means nothing was stored yet.
func (p *KeyringProvider) registeredNames() []string {
	raw, err := keyring.Get(p.service, registryEntry)
	if err != nil {
		return nil
	}
	var names []string
	for _, name := range strings.Split(raw, "\n") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func (p *KeyringProvider) saveRegistry(names []string) error {
	return keyring.Set(p.service, registryEntry, strings.Join(names, "\n"))
}
