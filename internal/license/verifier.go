package license

import (
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"
)

// validSigningMethods lists the asymmetric algorithms a Hub token may use.
// Symmetric methods are rejected outright: a client binary must never hold
// a key that could mint tokens.
var validSigningMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

// Verifier checks a token's signature and decodes it into Claims. Expiry
// and grace are not evaluated here; that is the Service's job, so the
// parser runs with claim-time validation disabled.
type Verifier struct {
	publicKey any
	parser    *jwt.Parser
	logger    *slog.Logger
}

// NewVerifier builds a Verifier from a PEM-encoded RSA or ECDSA public
// key. An empty PEM selects unsigned decode mode: tokens are decoded
// without signature checking, intended for local development only.
func NewVerifier(publicKeyPEM string, logger *slog.Logger) (*Verifier, error) {
	v := &Verifier{
		parser: jwt.NewParser(
			jwt.WithValidMethods(validSigningMethods),
			jwt.WithoutClaimsValidation(),
		),
		logger: logger.With(slog.String("component", "license_verifier")),
	}

	if publicKeyPEM == "" {
		v.logger.Warn("no license public key configured, tokens will be decoded WITHOUT signature verification",
			slog.String("mode", "unsigned"),
			slog.String("intended_use", "local development only"),
		)
		return v, nil
	}

	key, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse license public key: %w", err)
	}
	v.publicKey = key
	return v, nil
}

// Unsigned reports whether the verifier runs in reduced-trust decode mode
func (v *Verifier) Unsigned() bool {
	return v.publicKey == nil
}

// Verify checks the token and returns its Claims. Any structural or
// signature problem comes back wrapping ErrTokenInvalid.
func (v *Verifier) Verify(token string) (*Claims, error) {
	claims := &Claims{}

	if v.publicKey == nil {
		if _, _, err := v.parser.ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
		v.logger.Debug("token decoded without signature verification",
			slog.String("tenant_id", claims.TenantID),
		)
	} else {
		parsed, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			return v.publicKey, nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
		if !parsed.Valid {
			return nil, fmt.Errorf("%w: signature verification failed", ErrTokenInvalid)
		}
	}

	if err := claims.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims, nil
}

func parsePublicKey(pemData string) (any, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemData)); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM([]byte(pemData)); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("PEM data is neither an RSA nor an ECDSA public key")
}
