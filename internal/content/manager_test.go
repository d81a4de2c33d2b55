package content

import (
	"context"
	"sync"
	"testing"
	"testing/fstest"
	"time"
)

func TestManager_EmptyByDefault(t *testing.T) {
	m := NewManager()

	if _, ok := m.Get(); ok {
		t.Fatal("new manager should have no snapshot")
	}
	if got := m.ContentVersion(); got != "" {
		t.Fatalf("ContentVersion = %q, want empty", got)
	}
	if got := m.ContentHash(); got != "" {
		t.Fatalf("ContentHash = %q, want empty", got)
	}
	if got := m.Source(); got != SourceUnknown {
		t.Fatalf("Source = %q, want %q", got, SourceUnknown)
	}
	if !m.LoadedAt().IsZero() {
		t.Fatal("LoadedAt should be zero for empty manager")
	}
}

func TestManager_SetAndGet(t *testing.T) {
	m := NewManager()
	mfs := fstest.MapFS{"index.html": &fstest.MapFile{Data: []byte("hi")}}

	m.Set(Snapshot{
		FS: mfs,
		Meta: Meta{
			Version: "1.2.3",
			SHA256:  "abc123",
			Source:  SourceS3,
		},
	})

	snap, ok := m.Get()
	if !ok {
		t.Fatal("expected snapshot after Set")
	}
	if snap.Meta.Version != "1.2.3" {
		t.Fatalf("Version = %q", snap.Meta.Version)
	}
	if m.ContentHash() != "abc123" {
		t.Fatalf("ContentHash = %q", m.ContentHash())
	}
	if m.Source() != SourceS3 {
		t.Fatalf("Source = %q", m.Source())
	}
	if m.LoadedAt().IsZero() {
		t.Fatal("Set should default LoadedAt")
	}
}

func TestManager_SetPreservesLoadedAt(t *testing.T) {
	m := NewManager()
	loadedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m.Set(Snapshot{
		FS:       fstest.MapFS{},
		LoadedAt: loadedAt,
	})

	if got := m.LoadedAt(); !got.Equal(loadedAt) {
		t.Fatalf("LoadedAt = %v, want %v", got, loadedAt)
	}
}

func TestManager_NilFSNotReady(t *testing.T) {
	m := NewManager()
	m.Set(Snapshot{Meta: Meta{Version: "broken"}})

	if _, ok := m.Get(); ok {
		t.Fatal("snapshot without filesystem should not be ready")
	}
}

func TestManager_SwapReplacesSnapshot(t *testing.T) {
	m := NewManager()

	m.Set(Snapshot{FS: fstest.MapFS{}, Meta: Meta{SHA256: "first"}})
	m.Set(Snapshot{FS: fstest.MapFS{}, Meta: Meta{SHA256: "second"}})

	if got := m.ContentHash(); got != "second" {
		t.Fatalf("ContentHash = %q, want second", got)
	}
}

func TestManager_Probe(t *testing.T) {
	m := NewManager()
	probe := m.Probe()

	if err := probe(context.Background()); err == nil {
		t.Fatal("probe should fail with no content")
	}

	m.Set(Snapshot{FS: fstest.MapFS{}})
	if err := probe(context.Background()); err != nil {
		t.Fatalf("probe should pass with content, got %v", err)
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Set(Snapshot{FS: fstest.MapFS{}, Meta: Meta{SHA256: "h"}})
		}()
		go func() {
			defer wg.Done()
			m.Get()
			m.ContentVersion()
			m.ContentHash()
		}()
	}
	wg.Wait()
}
