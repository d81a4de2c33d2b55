package content

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"path"
	"strings"
	"testing/fstest"

	"github.com/cleanplanet/cleanplanet-web/internal/xerrors"
)

const (
	// maxBundleSize is the maximum size of a compressed bundle from S3
	maxBundleSize int64 = 50 * 1024 * 1024

	// maxSingleFile is the maximum size of a single file in the bundle
	maxSingleFile int64 = 10 * 1024 * 1024

	// maxTotalExtract is the maximum total size of extracted content
	maxTotalExtract int64 = 100 * 1024 * 1024

	// versionFile, if present in the bundle root, names the content release
	versionFile = "VERSION"
)

// readWithHash reads all bytes from r up to maxSize, computing SHA-256 as it
// reads. Returns the data, the hex-encoded hash, and any error.
func readWithHash(r io.Reader, maxSize int64) ([]byte, string, error) {
	h := sha256.New()
	lr := io.LimitReader(r, maxSize+1)
	tr := io.TeeReader(lr, h)

	data, err := io.ReadAll(tr)
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxSize {
		return nil, "", xerrors.Newf("content exceeds max size (%d bytes, limit %d)", len(data), maxSize)
	}

	return data, hex.EncodeToString(h.Sum(nil)), nil
}

// extractTarGzToMem extracts a .tar.gz bundle to an in-memory filesystem.
func extractTarGzToMem(data []byte) (fs.FS, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Wrap(err, "open gzip")
	}
	defer gr.Close()

	mfs := make(fstest.MapFS)
	tr := tar.NewReader(gr)

	var totalBytes int64

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Wrap(err, "read tar header")
		}

		cleanName := path.Clean(hdr.Name)
		if cleanName == "." || cleanName == "" {
			continue
		}
		if path.IsAbs(cleanName) {
			return nil, xerrors.Newf("absolute path in archive: %s", hdr.Name)
		}
		if strings.Contains(cleanName, "..") {
			return nil, xerrors.Newf("path traversal in archive: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			// directories are implicit in MapFS
			continue

		case tar.TypeReg:
			if hdr.Size > maxSingleFile {
				return nil, xerrors.Newf("file %s exceeds max size (%d > %d)",
					cleanName, hdr.Size, maxSingleFile)
			}

			lr := io.LimitReader(tr, maxSingleFile+1)
			fileData, err := io.ReadAll(lr)
			if err != nil {
				return nil, xerrors.Wrapf(err, "read %s", cleanName)
			}
			if int64(len(fileData)) > maxSingleFile {
				return nil, xerrors.Newf("file %s exceeds max size after read", cleanName)
			}

			totalBytes += int64(len(fileData))
			if totalBytes > maxTotalExtract {
				return nil, xerrors.Newf("total extracted size exceeds limit (%d bytes, max %d)",
					totalBytes, maxTotalExtract)
			}

			mfs[cleanName] = &fstest.MapFile{
				Data: fileData,
				Mode: hdr.FileInfo().Mode().Perm(),
			}

		default:
			return nil, xerrors.Newf("unsupported file type in archive: %s (type=%d)",
				cleanName, hdr.Typeflag)
		}
	}

	return mfs, nil
}

// bundleVersion reads the VERSION file from an extracted bundle, or "".
func bundleVersion(fsys fs.FS) string {
	data, err := fs.ReadFile(fsys, versionFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
