// SPDX-License-Identifier: MPL-2.0

package patchstore

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"condamirror/pkg/conda"
	"condamirror/pkg/patch"

	"github.com/dsnet/compress/bzip2"
)

// maxEntryBytes caps one extracted document.
const maxEntryBytes = 512 << 20

// writeArchive writes the encoded documents to a bzip2 compressed tarball at
// target. Entries are added in platform order.
func writeArchive(target string, platforms []conda.Platform, files map[conda.Platform][]byte) (err error) {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	bz, err := bzip2.NewWriter(f, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	if err != nil {
		return fmt.Errorf("failed to create bzip2 writer: %w", err)
	}
	tw := tar.NewWriter(bz)

	now := time.Now().Truncate(time.Second)
	for _, p := range platforms {
		data := files[p]
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     entryName(p),
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  now,
		}
		if err = tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("failed to write archive entry %s: %w", hdr.Name, err)
		}
		if _, err = tw.Write(data); err != nil {
			return fmt.Errorf("failed to write archive entry %s: %w", hdr.Name, err)
		}
	}

	if err = tw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	if err = bz.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

// extractArchive unpacks archive into dir. Only {platform}/patch_instructions.json
// files and their parent directories are accepted.
func extractArchive(archive, dir string) (err error) {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	bz, err := bzip2.NewReader(f, nil)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", archive, err)
	}
	defer func() { _ = bz.Close() }()

	tr := tar.NewReader(bz)
	for {
		hdr, nextErr := tr.Next()
		if errors.Is(nextErr, io.EOF) {
			return nil
		}
		if errors.Is(nextErr, tar.ErrInsecurePath) {
			return &InvalidArchiveEntryError{Archive: archive, Entry: hdr.Name}
		}
		if nextErr != nil {
			return fmt.Errorf("failed to read %s: %w", archive, nextErr)
		}

		name := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if !validPlatformDir(name) {
				return &InvalidArchiveEntryError{Archive: archive, Entry: hdr.Name}
			}
			continue
		case tar.TypeReg:
		default:
			return &InvalidArchiveEntryError{Archive: archive, Entry: hdr.Name}
		}

		platform, ok := platformOfEntry(name)
		if !ok {
			return &InvalidArchiveEntryError{Archive: archive, Entry: hdr.Name}
		}
		if err = extractEntry(tr, filepath.Join(dir, platform, patch.FileName)); err != nil {
			return fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
		}
	}
}

func extractEntry(r io.Reader, destPath string) (err error) {
	if err = os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	_, err = io.Copy(out, io.LimitReader(r, maxEntryBytes))
	return err
}

func entryName(p conda.Platform) string {
	return path.Join(string(p), patch.FileName)
}

// platformOfEntry returns the platform of a cleaned archive member name of
// the form {platform}/patch_instructions.json.
func platformOfEntry(name string) (string, bool) {
	dir, file := path.Split(name)
	if file != patch.FileName {
		return "", false
	}
	dir = strings.TrimSuffix(dir, "/")
	if !validPlatformDir(dir) {
		return "", false
	}
	return dir, true
}

func validPlatformDir(name string) bool {
	name = strings.TrimSuffix(name, "/")
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
