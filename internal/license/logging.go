package license

// maskLicenseKey hides the middle of a license key for log output
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// maskToken shows only a short prefix of a signed token. Tokens are
// credentials; they never appear whole in logs.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:12] + "****"
}
