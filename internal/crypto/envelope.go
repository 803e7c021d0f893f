package crypto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

const (
	EnvelopeVersion    = 1
	AlgorithmAES256GCM = "AES-256-GCM"
)

// Envelope is the self-describing result of Encrypt.
//
// Its JSON form is the wire shape exchanged with the API:
//
//	{"v":1,"alg":"AES-256-GCM","iv":"<base64>","ct":"<base64>","tag":"<base64>"}
//
// Envelopes without "tag" carry it as the last TagSize bytes of "ct".
type Envelope struct {
	Version    int    `json:"v"`
	Algorithm  string `json:"alg"`
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ct"`
	Tag        []byte `json:"tag"`
	// AAD is only set for envelopes that carry their own context. Callers that know
	// the expected context pass it to Decrypt instead, which takes precedence.
	AAD []byte `json:"aad,omitempty"`
}

// Validate checks the envelope's version, algorithm and field sizes.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrMalformedEnvelope)
	}
	if e.Version != EnvelopeVersion || e.Algorithm != AlgorithmAES256GCM {
		return fmt.Errorf("%w: v=%d alg=%q", ErrUnsupportedEnvelope, e.Version, e.Algorithm)
	}
	if len(e.IV) != NonceSize {
		return fmt.Errorf("%w: iv is %d bytes", ErrMalformedEnvelope, len(e.IV))
	}
	switch {
	case len(e.Tag) == TagSize:
	case len(e.Tag) == 0 && len(e.Ciphertext) >= TagSize:
		// Tag appended to ct, as WebCrypto emits it.
	case len(e.Tag) == 0:
		return fmt.Errorf("%w: ct is %d bytes and carries no tag", ErrMalformedEnvelope, len(e.Ciphertext))
	default:
		return fmt.Errorf("%w: tag is %d bytes", ErrMalformedEnvelope, len(e.Tag))
	}
	return nil
}

// sealed returns ciphertext followed by the tag, the form cipher.AEAD opens.
func (e *Envelope) sealed() []byte {
	if len(e.Tag) == 0 {
		return e.Ciphertext
	}
	out := make([]byte, 0, len(e.Ciphertext)+len(e.Tag))
	out = append(out, e.Ciphertext...)
	return append(out, e.Tag...)
}

// Clone returns a deep copy of the envelope.
func (e *Envelope) Clone() *Envelope {
	c := *e
	c.IV = append([]byte(nil), e.IV...)
	c.Ciphertext = append([]byte(nil), e.Ciphertext...)
	c.Tag = append([]byte(nil), e.Tag...)
	if e.AAD != nil {
		c.AAD = append([]byte(nil), e.AAD...)
	}
	return &c
}

// IsEnvelope reports whether raw is a JSON object carrying the envelope's
// version or algorithm tag. It does not validate the envelope: a damaged one
// still returns true and fails in ParseEnvelope. Legacy plaintext records
// return false.
func IsEnvelope(raw []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	_, hasVersion := fields["v"]
	_, hasAlgorithm := fields["alg"]
	return hasVersion || hasAlgorithm
}

// ParseEnvelope decodes and validates an envelope from JSON.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// AAD builds additional authenticated data from context parts such as a
// resource type and record id. Parts are length-prefixed so ("ab","c") and
// ("a","bc") produce different values.
func AAD(parts ...string) []byte {
	var out []byte
	var n [4]byte
	for _, p := range parts {
		binary.BigEndian.PutUint32(n[:], uint32(len(p)))
		out = append(out, n[:]...)
		out = append(out, p...)
	}
	return out
}
