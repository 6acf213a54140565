package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// playbackTokenTTL is the lifetime of a playback token. Telephony platforms
// fetch the announced audio immediately after receiving the playback URL, so
// tokens only need to outlive a single call.
const playbackTokenTTL = time.Hour

// PlaybackClaims holds the JWT claims for an audio playback URL.
type PlaybackClaims struct {
	Artifact string `json:"artifact"`
	jwt.RegisteredClaims
}

// GeneratePlaybackToken creates a signed JWT granting access to one rendered
// audio artifact.
func GeneratePlaybackToken(secret []byte, artifact string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(playbackTokenTTL)

	claims := PlaybackClaims{
		Artifact: artifact,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "voicereach",
			Subject:   artifact,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// VerifyPlaybackToken validates a playback token and returns the artifact name
// it grants access to.
func VerifyPlaybackToken(secret []byte, tokenString string) (string, error) {
	claims := &PlaybackClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Artifact == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.Artifact, nil
}

// jwtEnvelope matches the api package's envelope format for error responses.
type jwtEnvelope struct {
	Error string `json:"error,omitempty"`
}

// writeJWTError writes a JSON error matching the API envelope format.
func writeJWTError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(jwtEnvelope{Error: msg}) //nolint:errcheck
}
