package model

// CustomerKeyPrefixLen is the number of leading characters of a customer key
// that may appear in logs and listings.
const CustomerKeyPrefixLen = 8

// CustomerKey is a provisioned customer API key. Its existence in the
// customer-key namespace is the only authorization fact; it has no attributes.
type CustomerKey struct {
	Prefix string `json:"key_prefix"`
}

// KeyPrefix returns the loggable prefix of a customer key.
func KeyPrefix(key string) string {
	if len(key) <= CustomerKeyPrefixLen {
		return key
	}
	return key[:CustomerKeyPrefixLen]
}
