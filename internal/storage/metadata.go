package storage

import (
	"encoding/json"
	"fmt"

	"github.com/illarion/moodlock/internal/crypto"
)

// encryptionState is the stored value of the key bucket. It holds only public
// data: the parameters needed to re-derive the key, and the canary that tells
// a right key from a wrong one.
type encryptionState struct {
	Metadata crypto.KeyMetadata `json:"metadata"`
	Canary   *crypto.Envelope   `json:"canary,omitempty"`
}

func decodeState(data []byte) (*encryptionState, error) {
	if data == nil {
		return nil, fmt.Errorf("key metadata: %w", ErrNotFound)
	}
	var state encryptionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt key metadata: %w", err)
	}
	if err := state.Metadata.Validate(); err != nil {
		return nil, err
	}
	return &state, nil
}
