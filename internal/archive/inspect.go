package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	digest "github.com/opencontainers/go-digest"
)

// Entry is one record of an existing archive.
type Entry struct {
	Name     string    `json:"name"`
	Dir      bool      `json:"dir,omitempty"`
	Size     uint64    `json:"size,omitempty"`
	Modified time.Time `json:"modified"`
}

// Listing is the result of Inspect.
type Listing struct {
	Path            string        `json:"path"`
	ManifestVersion string        `json:"manifestVersion"`
	Entries         []Entry       `json:"entries"`
	Dirs            int           `json:"dirs"`
	Files           int           `json:"files"`
	Bytes           int64         `json:"bytes"`
	Digest          digest.Digest `json:"digest"`
}

// Inspect re-reads an archive written by Build and checks its shape: the
// manifest comes first and declares a version, directory names end in '/',
// and no name repeats. Entries exclude the manifest.
func Inspect(path string) (*Listing, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("archive path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	dgst, err := digest.Canonical.FromReader(f)
	if err != nil {
		return nil, fmt.Errorf("digest archive: %w", err)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	defer zr.Close()
	if len(zr.File) == 0 || zr.File[0].Name != ManifestName {
		return nil, fmt.Errorf("archive %s: first entry must be %s", path, ManifestName)
	}
	version, err := readManifestVersion(zr.File[0])
	if err != nil {
		return nil, err
	}

	out := &Listing{Path: path, ManifestVersion: version, Digest: dgst}
	seen := make(map[string]struct{}, len(zr.File))
	for _, zf := range zr.File[1:] {
		if _, dup := seen[zf.Name]; dup || zf.Name == ManifestName {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, zf.Name)
		}
		seen[zf.Name] = struct{}{}
		isDir := strings.HasSuffix(zf.Name, "/")
		if isDir != zf.FileInfo().IsDir() {
			return nil, fmt.Errorf("archive entry %s: directory marker does not match its mode", zf.Name)
		}
		e := Entry{Name: zf.Name, Dir: isDir, Modified: zf.Modified}
		if isDir {
			out.Dirs++
		} else {
			e.Size = zf.UncompressedSize64
			out.Files++
			out.Bytes += int64(zf.UncompressedSize64)
		}
		out.Entries = append(out.Entries, e)
	}
	return out, nil
}

func readManifestVersion(zf *zip.File) (string, error) {
	rc, err := zf.Open()
	if err != nil {
		return "", fmt.Errorf("open manifest: %w", err)
	}
	defer rc.Close()
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if v, ok := strings.CutPrefix(line, "Manifest-Version:"); ok {
			return strings.TrimSpace(v), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}
	return "", errors.New("manifest does not declare Manifest-Version")
}

// ExtractOptions tunes Extract.
type ExtractOptions struct {
	// SkipManifest leaves META-INF/MANIFEST.MF out of the extracted tree.
	SkipManifest bool
	BufferSize   int
}

// ExtractResult summarises Extract.
type ExtractResult struct {
	Destination string `json:"destination"`
	Dirs        int    `json:"dirs"`
	Files       int    `json:"files"`
	Bytes       int64  `json:"bytes"`
}

// Extract unpacks the archive at path into dest, restoring modification
// times. Entries that would land outside dest are rejected.
func Extract(ctx context.Context, path, dest string, opts ExtractOptions) (*ExtractResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dest, err := filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	defer zr.Close()

	size := opts.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	buf := make([]byte, size)
	res := &ExtractResult{Destination: dest}
	type dirTime struct {
		path string
		mod  time.Time
	}
	var dirs []dirTime

	for _, zf := range zr.File {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if opts.SkipManifest && zf.Name == ManifestName {
			continue
		}
		target, err := safeJoin(dest, zf.Name)
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(zf.Name, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("create %s: %w", target, err)
			}
			dirs = append(dirs, dirTime{path: target, mod: zf.Modified})
			res.Dirs++
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", filepath.Dir(target), err)
		}
		n, err := extractFile(zf, target, buf)
		if err != nil {
			return nil, err
		}
		res.Files++
		res.Bytes += n
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		if dirs[i].mod.IsZero() {
			continue
		}
		if err := os.Chtimes(dirs[i].path, dirs[i].mod, dirs[i].mod); err != nil {
			return nil, fmt.Errorf("set modification time on %s: %w", dirs[i].path, err)
		}
	}
	return res, nil
}

func extractFile(zf *zip.File, target string, buf []byte) (int64, error) {
	rc, err := zf.Open()
	if err != nil {
		return 0, fmt.Errorf("open entry %s: %w", zf.Name, err)
	}
	defer rc.Close()
	mode := zf.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", target, err)
	}
	n, copyErr := io.CopyBuffer(out, struct{ io.Reader }{rc}, buf)
	closeErr := out.Close()
	if copyErr != nil {
		return n, fmt.Errorf("extract %s: %w", zf.Name, copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close %s: %w", target, closeErr)
	}
	if !zf.Modified.IsZero() {
		if err := os.Chtimes(target, zf.Modified, zf.Modified); err != nil {
			return n, fmt.Errorf("set modification time on %s: %w", target, err)
		}
	}
	return n, nil
}

func safeJoin(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid entry path in archive: %s", name)
	}
	return filepath.Join(dest, clean), nil
}
