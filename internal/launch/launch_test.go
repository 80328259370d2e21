package launch

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantOK  bool
		want    Request
	}{
		{
			name:   "valid_minimal",
			query:  "source=obsidian&nonce=abc123",
			wantOK: true,
			want:   Request{Source: "obsidian", Nonce: "abc123"},
		},
		{
			name:   "valid_with_redirect_and_prompt",
			query:  "source=obsidian&nonce=abc123&redirect=true&prompt=select_account",
			wantOK: true,
			want:   Request{Source: "obsidian", Nonce: "abc123", Redirect: true, Prompt: "select_account"},
		},
		{
			name:   "redirect_defaults_false_when_not_exactly_true",
			query:  "source=obsidian&nonce=abc123&redirect=TRUE",
			wantOK: true,
			want:   Request{Source: "obsidian", Nonce: "abc123", Redirect: false},
		},
		{
			name:   "redirect_defaults_false_when_absent",
			query:  "source=obsidian&nonce=abc123",
			wantOK: true,
			want:   Request{Source: "obsidian", Nonce: "abc123"},
		},
		{
			name:   "missing_source",
			query:  "nonce=abc123",
			wantOK: false,
		},
		{
			name:   "missing_nonce",
			query:  "source=obsidian",
			wantOK: false,
		},
		{
			name:   "empty_nonce",
			query:  "source=obsidian&nonce=",
			wantOK: false,
		},
		{
			name:   "wrong_source",
			query:  "source=notion&nonce=abc123",
			wantOK: false,
		},
		{
			name:   "empty_query",
			query:  "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			require.NoError(t, err)

			got, ok := Parse(values)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			} else {
				assert.Equal(t, Request{}, got, "invalid input must not leak partial requests")
			}
		})
	}
}

func TestParse_NoncePassedThroughVerbatim(t *testing.T) {
	nonce := "x+y/z=&%C3%A9"
	values := url.Values{}
	values.Set("source", "obsidian")
	values.Set("nonce", nonce)

	got, ok := Parse(values)
	require.True(t, ok)
	assert.Equal(t, nonce, got.Nonce, "nonce must be byte-for-byte the caller's value")
}
