// Package secret resolves ${provider:key} references in configuration
// values. Two providers ship by default: env reads process environment
// variables, keyring reads the OS credential store. The resolver also
// backs the `taskmcp secrets` CLI commands.
package secret

import (
	"context"
	"fmt"
	"reflect"
)

// Ref points at a secret held by an external provider.
type Ref struct {
	Provider string `json:"provider"`      // "env" or "keyring"
	Key      string `json:"key"`           // variable name or keyring entry name
	Raw      string `json:"raw,omitempty"` // the literal ${provider:key} text, when parsed from one
}

// Provider stores and retrieves secrets for one reference kind.
type Provider interface {
	Handles(provider string) bool
	Resolve(ctx context.Context, ref Ref) (string, error)
	Store(ctx context.Context, ref Ref, value string) error
	Delete(ctx context.Context, ref Ref) error
	List(ctx context.Context) ([]Ref, error)
	Available() bool
}

// Resolver fans requests out to the first provider that handles the
// reference kind.
type Resolver struct {
	providers []Provider
}

// NewResolver returns a resolver with the env and keyring providers
// registered.
func NewResolver() *Resolver {
	return &Resolver{providers: []Provider{
		NewEnvProvider(),
		NewKeyringProvider(),
	}}
}

// Register appends an additional provider. Later registrations are
// consulted after the defaults.
func (r *Resolver) Register(p Provider) {
	r.providers = append(r.providers, p)
}

func (r *Resolver) provider(kind string) (Provider, error) {
	for _, p := range r.providers {
		if !p.Handles(kind) {
			continue
		}
		if !p.Available() {
			return nil, fmt.Errorf("secret provider %q is not available on this system", kind)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown secret provider %q", kind)
}

// Resolve returns the plaintext value behind ref.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (string, error) {
	p, err := r.provider(ref.Provider)
	if err != nil {
		return "", err
	}
	return p.Resolve(ctx, ref)
}

// Store writes value under ref for providers that support writes.
func (r *Resolver) Store(ctx context.Context, ref Ref, value string) error {
	p, err := r.provider(ref.Provider)
	if err != nil {
		return err
	}
	return p.Store(ctx, ref, value)
}

// Delete removes the secret behind ref for providers that support it.
func (r *Resolver) Delete(ctx context.Context, ref Ref) error {
	p, err := r.provider(ref.Provider)
	if err != nil {
		return err
	}
	return p.Delete(ctx, ref)
}

// ListAll enumerates references across every available provider.
// Providers that cannot enumerate are skipped, not fatal.
func (r *Resolver) ListAll(ctx context.Context) ([]Ref, error) {
	var all []Ref
	for _, p := range r.providers {
		if !p.Available() {
			continue
		}
		refs, err := p.List(ctx)
		if err != nil {
			continue
		}
		all = append(all, refs...)
	}
	return all, nil
}

// ExpandStruct walks target (a pointer to a struct) and replaces every
// string field, slice element, and map value that holds a secret
// reference with its resolved plaintext.
func (r *Resolver) ExpandStruct(ctx context.Context, target any) error {
	return r.walk(ctx, reflect.ValueOf(target))
}

func (r *Resolver) walk(ctx context.Context, v reflect.Value) error {
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return r.walk(ctx, v.Elem())

	case reflect.String:
		if !v.CanSet() || !IsRef(v.String()) {
			return nil
		}
		expanded, err := r.Expand(ctx, v.String())
		if err != nil {
			return err
		}
		v.SetString(expanded)

	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := r.walk(ctx, v.Field(i)); err != nil {
				return err
			}
		}

	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := r.walk(ctx, v.Index(i)); err != nil {
				return err
			}
		}

	case reflect.Map:
		// Map values are not addressable; rewrite via SetMapIndex.
		for iter := v.MapRange(); iter.Next(); {
			val := iter.Value()
			if val.Kind() == reflect.Interface && !val.IsNil() {
				val = val.Elem()
			}
			if val.Kind() != reflect.String || !IsRef(val.String()) {
				continue
			}
			expanded, err := r.Expand(ctx, val.String())
			if err != nil {
				return err
			}
			v.SetMapIndex(iter.Key(), reflect.ValueOf(expanded))
		}
	}

	return nil
}
