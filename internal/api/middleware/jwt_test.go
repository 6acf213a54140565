package middleware

import (
	"bytes"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestPlaybackTokenRoundTrip(t *testing.T) {
	secret := bytes.Repeat([]byte{0x11}, 32)

	token, expiresAt, err := GeneratePlaybackToken(secret, "render_abc.mp3")
	if err != nil {
		t.Fatalf("GeneratePlaybackToken() error: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Error("token should expire in the future")
	}

	artifact, err := VerifyPlaybackToken(secret, token)
	if err != nil {
		t.Fatalf("VerifyPlaybackToken() error: %v", err)
	}
	if artifact != "render_abc.mp3" {
		t.Errorf("artifact = %q", artifact)
	}
}

func TestPlaybackTokenWrongSecret(t *testing.T) {
	token, _, err := GeneratePlaybackToken(bytes.Repeat([]byte{0x11}, 32), "a.mp3")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := VerifyPlaybackToken(bytes.Repeat([]byte{0x22}, 32), token); err == nil {
		t.Error("token signed with a different secret should not verify")
	}
}

func TestPlaybackTokenExpired(t *testing.T) {
	secret := bytes.Repeat([]byte{0x11}, 32)

	claims := PlaybackClaims{
		Artifact: "a.mp3",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			Issuer:    "voicereach",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := VerifyPlaybackToken(secret, token); err == nil {
		t.Error("expired token should not verify")
	}
}

func TestPlaybackTokenRejectsUnsignedAlgorithm(t *testing.T) {
	secret := bytes.Repeat([]byte{0x11}, 32)

	claims := PlaybackClaims{
		Artifact: "a.mp3",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := VerifyPlaybackToken(secret, token); err == nil {
		t.Error("token with alg=none should not verify")
	}
}

func TestPlaybackTokenMissingArtifact(t *testing.T) {
	secret := bytes.Repeat([]byte{0x11}, 32)

	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := VerifyPlaybackToken(secret, token); err == nil {
		t.Error("token without an artifact claim should not verify")
	}
}
