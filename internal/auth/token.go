package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// SensorToken is a freshly minted sensor credential. Plain is shown once.
type SensorToken struct {
	Plain   string
	Hash    string
	Preview string
}

func NewSensorToken() (SensorToken, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return SensorToken{}, err
	}
	plain := base64.RawURLEncoding.EncodeToString(buf)
	return SensorToken{Plain: plain, Hash: HashToken(plain), Preview: plain[len(plain)-4:]}, nil
}

func HashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// TokenMatches compares plain against a stored hash in constant time.
func TokenMatches(plain, hash string) bool {
	got := HashToken(plain)
	return subtle.ConstantTimeCompare([]byte(got), []byte(hash)) == 1
}
