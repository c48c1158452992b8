// Package keygen produces random application and license keys.
package keygen

import (
	"crypto/rand"
	"fmt"
)

const (
	// AppKeyPrefix starts every application key.
	AppKeyPrefix = "Pilot"
	// LicenseKeyLen is the length of a license key.
	LicenseKeyLen = 32

	appKeyBodyLen = 16
	upper         = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	upperDigits   = upper + "0123456789"
)

// GenerateAppKey returns "Pilot" followed by one random uppercase letter,
// sixteen random uppercase letters or digits, a dash, and the owner's
// username. It does not check the store for collisions.
func GenerateAppKey(username string) (string, error) {
	lead, err := randomString(upper, 1)
	if err != nil {
		return "", fmt.Errorf("generate app key: %w", err)
	}
	body, err := randomString(upperDigits, appKeyBodyLen)
	if err != nil {
		return "", fmt.Errorf("generate app key: %w", err)
	}
	return AppKeyPrefix + lead + body + "-" + username, nil
}

// GenerateLicenseKey returns 32 random uppercase letters or digits.
func GenerateLicenseKey() (string, error) {
	key, err := randomString(upperDigits, LicenseKeyLen)
	if err != nil {
		return "", fmt.Errorf("generate license key: %w", err)
	}
	return key, nil
}

// randomString draws n characters uniformly from alphabet. Bytes at or above
// the largest multiple of len(alphabet) are rejected so every character is
// equally likely.
func randomString(alphabet string, n int) (string, error) {
	limit := 256 - 256%len(alphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
