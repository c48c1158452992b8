package keygen

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	licenseKeyPattern = regexp.MustCompile(`^[A-Z0-9]{32}$`)
	appKeyPattern     = regexp.MustCompile(`^Pilot[A-Z][A-Z0-9]{16}-alice$`)
)

func TestGenerateLicenseKey(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		key, err := GenerateLicenseKey()
		require.NoError(t, err)
		require.Len(t, key, LicenseKeyLen)
		require.Truef(t, licenseKeyPattern.MatchString(key), "bad license key %q", key)
		seen[key] = struct{}{}
	}
	assert.Len(t, seen, 500, "license keys should not repeat")
}

func TestGenerateAppKey(t *testing.T) {
	for i := 0; i < 200; i++ {
		key, err := GenerateAppKey("alice")
		require.NoError(t, err)
		require.Truef(t, appKeyPattern.MatchString(key), "bad app key %q", key)
		assert.True(t, strings.HasSuffix(key, "-alice"))
	}
}

func TestRandomStringCoversAlphabet(t *testing.T) {
	s, err := randomString(upperDigits, 5000)
	require.NoError(t, err)
	for _, c := range upperDigits {
		assert.Containsf(t, s, string(c), "character %q never drawn", c)
	}
}
