package content

import (
	"io/fs"

	"github.com/cleanplanet/cleanplanet-web/internal/xerrors"
)

// ValidationOptions controls which checks ValidateSnapshot performs.
type ValidationOptions struct {
	// MinFiles rejects bundles with fewer than this many files.
	// 0 disables the check.
	MinFiles int
}

// DefaultValidationOptions returns the recommended production defaults.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{MinFiles: 3}
}

// ValidateSnapshot performs sanity checks on a content bundle before the
// watcher swaps it into the active Manager, so a broken upload never
// replaces working content.
func ValidateSnapshot(snap *Snapshot, opts ValidationOptions) error {
	if snap == nil {
		return xerrors.New("validate: snapshot is nil")
	}
	if snap.FS == nil {
		return xerrors.New("validate: snapshot has nil filesystem")
	}

	if err := checkIndexHTML(snap.FS); err != nil {
		return err
	}

	if opts.MinFiles > 0 {
		count, err := countFiles(snap.FS)
		if err != nil {
			return xerrors.Wrap(err, "validate: counting files")
		}
		if count < opts.MinFiles {
			return xerrors.Newf("validate: bundle has %d files, minimum is %d", count, opts.MinFiles)
		}
	}

	return nil
}

// checkIndexHTML verifies index.html exists and has content.
func checkIndexHTML(fsys fs.FS) error {
	f, err := fsys.Open("index.html")
	if err != nil {
		return xerrors.Wrap(err, "validate: index.html not found")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return xerrors.Wrap(err, "validate: cannot stat index.html")
	}
	if info.Size() == 0 {
		return xerrors.New("validate: index.html is empty")
	}

	return nil
}

func countFiles(fsys fs.FS) (int, error) {
	count := 0
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	return count, err
}
