package lifecycle

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/illarion/moodlock/internal/crypto"
)

const canaryCheckString = "moodlock-key-check"

func canaryPlaintext() []byte {
	sum := sha256.Sum256([]byte(canaryCheckString))
	return []byte(hex.EncodeToString(sum[:]))
}

func canaryAAD(accountID string) []byte {
	return crypto.AAD("canary", accountID)
}

// NewCanary encrypts the key-check value for accountID under key.
func NewCanary(key *crypto.Key, accountID string) (*crypto.Envelope, error) {
	return crypto.Encrypt(key, canaryPlaintext(), canaryAAD(accountID))
}

// CheckCanary reports whether key decrypts canary to the key-check value.
func CheckCanary(key *crypto.Key, accountID string, canary *crypto.Envelope) bool {
	if canary == nil {
		return false
	}
	data, err := crypto.Decrypt(key, canary, canaryAAD(accountID))
	if err != nil {
		return false
	}
	defer crypto.ClearBytes(data)
	return crypto.ConstantTimeCompare(data, canaryPlaintext())
}
