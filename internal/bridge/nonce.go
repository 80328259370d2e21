package bridge

import (
	"github.com/codermrrob/loginbridge/internal/log"
	"github.com/golang-jwt/jwt/v5"
)

// warnOnNonceMismatch peeks at the identity token's claims without
// verifying its signature and logs when a nonce claim is present but does
// not match the launch nonce. Advisory only: the bridge asserts, never
// verifies, the nonce binding, so the flow proceeds regardless.
func warnOnNonceMismatch(identityToken, nonce string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(identityToken, claims); err != nil {
		// Opaque or non-JWT token; nothing to peek at.
		return
	}

	claimed, ok := claims["nonce"].(string)
	if !ok {
		return
	}
	if claimed != nonce {
		log.LogWarnWithFields("bridge", "Identity token nonce claim does not match the launch nonce", map[string]any{
			"claimLength": len(claimed),
			"nonceLength": len(nonce),
		})
	}
}
