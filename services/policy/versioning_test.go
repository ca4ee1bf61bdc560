package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("1.2.30")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 1, Minor: 2, Patch: 30}, v)
	assert.Equal(t, "1.2.30", v.String())

	for _, bad := range []string{"", "1.0", "1.0.0.0", "a.b.c", "1.-1.0", "1.-0.0", "-0.0.0", "1..0", "+1.0.0", "v1.0.0"} {
		_, err := ParseVersion(bad)
		assert.Error(t, err, bad)
	}
}

func TestNextPatchVersion(t *testing.T) {
	tests := map[string]string{
		"1.0.0": "1.0.1",
		"1.0.2": "1.0.3",
		"2.3.9": "2.3.10",
	}
	for in, want := range tests {
		got, err := NextPatchVersion(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := NextPatchVersion("broken")
	assert.Error(t, err)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.1", "1.0.0", 1},
		{"1.0.9", "1.0.10", -1},
		{"1.10.0", "1.9.99", 1},
		{"2.0.0", "10.0.0", -1},
	}
	for _, tt := range tests {
		got, err := CompareVersions(tt.a, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s vs %s", tt.a, tt.b)
	}

	_, err := CompareVersions("1.0.0", "x")
	assert.Error(t, err)
}

func TestNextPatchVersion_Monotonic(t *testing.T) {
	version := "1.0.0"
	for i := 0; i < 25; i++ {
		next, err := NextPatchVersion(version)
		require.NoError(t, err)
		cmp, err := CompareVersions(next, version)
		require.NoError(t, err)
		assert.Equal(t, 1, cmp)
		version = next
	}
	assert.Equal(t, "1.0.25", version)
}
