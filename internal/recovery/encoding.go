package recovery

import (
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
)

// Encoding is the human-facing alphabet of a recovery secret.
type Encoding string

const (
	EncodingCrockford Encoding = "crockford"
	EncodingHex       Encoding = "hex"
)

const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockford = base32.NewEncoding(crockfordAlphabet).WithPadding(base32.NoPadding)

// ParseEncoding accepts "crockford", "base32" or "hex". Empty means crockford.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "crockford", "base32":
		return EncodingCrockford, nil
	case "hex":
		return EncodingHex, nil
	default:
		return "", fmt.Errorf("unknown recovery encoding %q", s)
	}
}

// Format encodes secret and splits it into dash-separated groups of groupSize characters.
func Format(secret []byte, enc Encoding, groupSize int) string {
	var s string
	switch enc {
	case EncodingHex:
		s = strings.ToUpper(hex.EncodeToString(secret))
	default:
		s = crockford.EncodeToString(secret)
	}
	if groupSize <= 0 || groupSize >= len(s) {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); i += groupSize {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(s[i:min(i+groupSize, len(s))])
	}
	return b.String()
}

// Parse decodes a secret typed by the user. Case, dashes and whitespace are
// ignored; for Crockford the confusable letters O, I and L are read as digits.
func Parse(input string, enc Encoding) ([]byte, error) {
	s := normalize(input, enc)
	if s == "" {
		return nil, fmt.Errorf("recovery secret is empty")
	}

	var (
		secret []byte
		err    error
	)
	switch enc {
	case EncodingHex:
		secret, err = hex.DecodeString(s)
	default:
		secret, err = crockford.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("recovery secret is not valid %s: %w", enc, err)
	}
	return secret, nil
}

func normalize(input string, enc Encoding) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(input) {
		switch {
		case r == '-' || r == ' ' || r == '\t' || r == '\n' || r == '\r':
			continue
		case enc != EncodingHex && r == 'O':
			r = '0'
		case enc != EncodingHex && (r == 'I' || r == 'L'):
			r = '1'
		}
		b.WriteRune(r)
	}
	s := b.String()
	if enc == EncodingHex {
		s = strings.ToLower(s)
	}
	return s
}
