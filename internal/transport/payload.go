package transport

import (
	"encoding/json"
	"errors"

	"github.com/illarion/moodlock/internal/crypto"
)

// Payload is a stored value as read from storage or the API.
// It is either Plaintext or Sealed.
type Payload interface {
	payload()
}

// Plaintext is a legacy record stored before encryption was enabled.
type Plaintext struct {
	Raw json.RawMessage
}

// Sealed is an encrypted record.
type Sealed struct {
	Envelope *crypto.Envelope
}

func (Plaintext) payload() {}
func (Sealed) payload()    {}

// Classify inspects raw and returns the matching variant. A value shaped like an
// envelope but not a valid one is an error, never Plaintext.
func Classify(raw json.RawMessage) (Payload, error) {
	if !crypto.IsEnvelope(raw) {
		if !json.Valid(raw) {
			return nil, errors.Join(crypto.ErrDecryptionFailed, crypto.ErrMalformedEnvelope)
		}
		return Plaintext{Raw: raw}, nil
	}
	env, err := crypto.ParseEnvelope(raw)
	if err != nil {
		return nil, errors.Join(crypto.ErrDecryptionFailed, err)
	}
	return Sealed{Envelope: env}, nil
}

// RecordAAD binds a record's ciphertext to its resource type and id.
func RecordAAD(resource, id string) []byte {
	return crypto.AAD("record", resource, id)
}
