package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSlug(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"acme", "acme", false},
		{"Acme Corp", "acme-corp", false},
		{"  acme  ", "acme", false},
		{"a1-b2", "a1-b2", false},
		{"", "", true},
		{"-leading-dash", "", true},
		{"1starts-with-digit", "", true},
		{"weird!chars", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeSlug(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestNormalizeDTO(t *testing.T) {
	type dto struct {
		Name  string
		Slug  string
		Count int
	}
	d := dto{Name: "  Acme  ", Slug: " acme ", Count: 3}
	NormalizeDTO(&d)
	assert.Equal(t, "Acme", d.Name)
	assert.Equal(t, "acme", d.Slug)
	assert.Equal(t, 3, d.Count)

	// Non-pointer input is a no-op, not a panic.
	NormalizeDTO(dto{Name: " x "})
}
