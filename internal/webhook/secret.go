package webhook

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

const sealedPrefix = "aes-gcm-v1:"

var secretAAD = []byte("webhook_subscription.secret")

// SecretBox encrypts subscription secrets at rest. The first key seals; every
// key is tried when opening, so a previous key keeps working during rotation.
// A nil box stores secrets as given.
type SecretBox struct {
	keys []cipher.AEAD
}

// NewSecretBox returns nil when primary is empty.
func NewSecretBox(primary, previous string) (*SecretBox, error) {
	if strings.TrimSpace(primary) == "" {
		return nil, nil
	}
	box := &SecretBox{}
	seen := map[string]struct{}{}
	for _, raw := range []string{primary, previous} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}
		gcm, err := newGCM(raw)
		if err != nil {
			return nil, err
		}
		box.keys = append(box.keys, gcm)
	}
	return box, nil
}

func (b *SecretBox) Seal(plain string) (string, error) {
	if b == nil || len(b.keys) == 0 {
		return plain, nil
	}
	gcm := b.keys[0]
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := gcm.Seal(nil, nonce, []byte(plain), secretAAD)
	return sealedPrefix + base64.StdEncoding.EncodeToString(nonce) + ":" + base64.StdEncoding.EncodeToString(ct), nil
}

// Open returns stored unchanged when it was never sealed.
func (b *SecretBox) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if b == nil || len(b.keys) == 0 {
		return "", errors.New("webhook secret is sealed but no key is configured")
	}
	parts := strings.SplitN(strings.TrimPrefix(stored, sealedPrefix), ":", 2)
	if len(parts) != 2 {
		return "", errors.New("malformed sealed webhook secret")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", err
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", err
	}
	for _, gcm := range b.keys {
		if len(nonce) != gcm.NonceSize() {
			continue
		}
		if pt, err := gcm.Open(nil, nonce, ct, secretAAD); err == nil {
			return string(pt), nil
		}
	}
	return "", errors.New("webhook secret cannot be opened with the configured keys")
}

// newGCM accepts a base64 key or raw bytes; lengths other than 16, 24 or 32
// are truncated down to the nearest AES size.
func newGCM(k string) (cipher.AEAD, error) {
	key, err := base64.StdEncoding.DecodeString(k)
	if err != nil {
		key = []byte(k)
	}
	switch {
	case len(key) >= 32:
		key = key[:32]
	case len(key) >= 24:
		key = key[:24]
	case len(key) >= 16:
		key = key[:16]
	default:
		return nil, errors.New("webhook secret key must be at least 16 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
