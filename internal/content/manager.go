package content

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cleanplanet/cleanplanet-web/internal/xerrors"
)

// Manager holds the active content snapshot behind an atomic pointer.
type Manager struct {
	active atomic.Pointer[Snapshot]
}

func NewManager() *Manager { return &Manager{} }

// Set swaps the active snapshot.
func (m *Manager) Set(s Snapshot) {
	// store a copy to avoid external mutation
	cp := new(Snapshot)
	*cp = s
	if cp.LoadedAt.IsZero() {
		cp.LoadedAt = time.Now().UTC()
	}
	m.active.Store(cp)
}

// Get retrieves the active snapshot.
func (m *Manager) Get() (*Snapshot, bool) {
	s := m.active.Load()
	return s, s != nil && s.FS != nil
}

// ContentVersion returns the current content version for headers.
// Implements httpmw.ContentInfo.
func (m *Manager) ContentVersion() string {
	s := m.active.Load()
	if s == nil {
		return ""
	}
	return s.Meta.Version
}

// ContentHash returns the current content hash for headers.
// Implements httpmw.ContentInfo.
func (m *Manager) ContentHash() string {
	s := m.active.Load()
	if s == nil {
		return ""
	}
	return s.Meta.SHA256
}

// Source returns where the current content came from.
func (m *Manager) Source() Source {
	s := m.active.Load()
	if s == nil {
		return SourceUnknown
	}
	return s.Meta.Source
}

// LoadedAt returns when the current snapshot was loaded, or zero.
func (m *Manager) LoadedAt() time.Time {
	s := m.active.Load()
	if s == nil {
		return time.Time{}
	}
	return s.LoadedAt
}

// Probe is a readiness check: the server cannot serve pages without content.
func (m *Manager) Probe() func(context.Context) error {
	return func(context.Context) error {
		if _, ok := m.Get(); !ok {
			return xerrors.New("no content loaded")
		}
		return nil
	}
}
