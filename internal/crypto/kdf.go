package crypto

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// progressSteps is how many times derivation stops to report progress and check for cancellation.
const progressSteps = 100

// Status is the phase of a key derivation.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusDeriving Status = "deriving"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Progress is a point-in-time view of a derivation.
type Progress struct {
	Status             Status
	Percent            int
	EstimatedRemaining time.Duration
	Err                string
}

// ProgressFunc receives derivation progress. It is called on the deriving goroutine.
type ProgressFunc func(Progress)

// Derive computes the master key for password and meta with PBKDF2-HMAC-SHA256.
//
// The result is identical to pbkdf2.Key(password, meta.Salt, meta.Iterations, KeySize, sha256.New).
// Iterations are processed in chunks; between chunks ctx is checked and onProgress, if set,
// receives the completed percentage and a remaining-time estimate extrapolated from elapsed time.
func Derive(ctx context.Context, password []byte, meta KeyMetadata, onProgress ProgressFunc) (key *Key, err error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			key = nil
			err = fmt.Errorf("%w: %v", ErrKeyDerivationFailed, r)
		}
		if err != nil {
			report(Progress{Status: StatusError, Err: err.Error()})
		}
	}()

	report(Progress{Status: StatusDeriving})

	total := int(meta.Iterations)
	chunk := max(total/progressSteps, 1)
	start := time.Now()

	// SHA-256 output equals KeySize, so PBKDF2 needs exactly one block.
	mac := hmac.New(sha256.New, password)
	mac.Write(meta.Salt)
	var blockIndex [4]byte
	binary.BigEndian.PutUint32(blockIndex[:], 1)
	mac.Write(blockIndex[:])
	u := mac.Sum(nil)
	defer ClearBytes(u)

	key = &Key{}
	copy(key.b[:], u)

	for done := 1; done < total; {
		if err := ctx.Err(); err != nil {
			key.Destroy()
			return nil, fmt.Errorf("key derivation interrupted: %w", err)
		}

		end := min(done+chunk, total)
		for ; done < end; done++ {
			mac.Reset()
			mac.Write(u)
			u = mac.Sum(u[:0])
			for i := range key.b {
				key.b[i] ^= u[i]
			}
		}

		elapsed := time.Since(start)
		report(Progress{
			Status:             StatusDeriving,
			Percent:            done * 100 / total,
			EstimatedRemaining: time.Duration(float64(elapsed) * float64(total-done) / float64(done)),
		})
	}

	report(Progress{Status: StatusComplete, Percent: 100})
	return key, nil
}
