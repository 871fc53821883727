package secret

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Ref
		wantErr bool
	}{
		{
			name:  "env reference",
			input: "${env:ENCRYPTION_KEY}",
			want:  Ref{Provider: "env", Key: "ENCRYPTION_KEY", Raw: "${env:ENCRYPTION_KEY}"},
		},
		{
			name:  "keyring reference",
			input: "${keyring:google-client-secret}",
			want:  Ref{Provider: "keyring", Key: "google-client-secret", Raw: "${keyring:google-client-secret}"},
		},
		{
			name:  "key with surrounding spaces is trimmed",
			input: "${env: GOOGLE_CLIENT_SECRET }",
			want:  Ref{Provider: "env", Key: "GOOGLE_CLIENT_SECRET", Raw: "${env: GOOGLE_CLIENT_SECRET }"},
		},
		{
			name:  "reference embedded in a longer string",
			input: "prefix ${env:API_KEY} suffix",
			want:  Ref{Provider: "env", Key: "API_KEY", Raw: "${env:API_KEY}"},
		},
		{name: "plain value", input: "not-a-secret", wantErr: true},
		{name: "missing key", input: "${env:}", wantErr: true},
		{name: "missing provider", input: "${:NAME}", wantErr: true},
		{name: "unclosed brace", input: "${env:NAME", wantErr: true},
		{name: "empty string", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseRef(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ref)
		})
	}
}

func TestIsRef(t *testing.T) {
	assert.True(t, IsRef("${env:ENCRYPTION_KEY}"))
	assert.True(t, IsRef("${keyring:api-key}"))
	assert.True(t, IsRef("something ${env:X} something"))
	assert.False(t, IsRef("ENCRYPTION_KEY"))
	assert.False(t, IsRef("${env}"))
	assert.False(t, IsRef("$[env:X]"))
	assert.False(t, IsRef(""))
}

func TestExpandReplacesAllRefs(t *testing.T) {
	t.Setenv("TEST_USER", "alice")
	t.Setenv("TEST_PASS", "s3cret")

	r := NewResolver()
	out, err := r.Expand(context.Background(), "postgres://${env:TEST_USER}:${env:TEST_PASS}@db/tasks")
	require.NoError(t, err)
	assert.Equal(t, "postgres://alice:s3cret@db/tasks", out)
}

func TestExpandPassesThroughPlainStrings(t *testing.T) {
	r := NewResolver()
	out, err := r.Expand(context.Background(), "plain-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-value", out)
}

func TestExpandFailsOnUnresolvable(t *testing.T) {
	r := NewResolver()
	_, err := r.Expand(context.Background(), "${env:TASKMCP_DEFINITELY_UNSET_VAR}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TASKMCP_DEFINITELY_UNSET_VAR")
}

func TestMask(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"", "****"},
		{"ab", "****"},
		{"abcd", "****"},
		{"abcdef", "ab****"},
		{"abcdefgh", "ab****"},
		{"ya29.a0AfB_byDxEjqx", "ya2****qx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Mask(tt.value), "value %q", tt.value)
	}
}
