package core

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/illarion/moodlock/internal/git"
	"github.com/illarion/moodlock/internal/lifecycle"
	"github.com/illarion/moodlock/internal/storage"
)

// Info summarizes the journal for the status command. It needs no password.
type Info struct {
	AccountID      string
	State          lifecycle.State
	Encrypted      bool
	Iterations     uint32
	Stale          bool
	HasRecoveryKey bool
	Resources      map[string]int
	Modified       time.Time
	SessionStore   string
	APIURL         string
	Git            *git.Exposure
}

// Info collects the journal status.
func (m *Moodlock) Info() (*Info, error) {
	info := &Info{
		AccountID:    m.accountID,
		State:        m.keys.State(),
		SessionStore: m.cfg.SessionStore,
		APIURL:       m.cfg.APIURL,
	}

	meta, _, err := m.db.EncryptionState()
	switch {
	case err == nil:
		info.Encrypted = true
		info.Iterations = meta.Iterations
		info.Stale = meta.Iterations < m.cfg.KDFIterations
		info.HasRecoveryKey = meta.HasRecoveryKey
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	if info.Resources, err = m.db.CountRecords(); err != nil {
		return nil, err
	}
	if info.Modified, err = m.db.GetModified(); err != nil {
		return nil, err
	}

	workDir := filepath.Dir(filepath.Clean(m.cfg.Dir))
	info.Git = git.CheckExposure(workDir, []string{filepath.Base(m.cfg.Dir), ".env"})
	return info, nil
}
