// File: internal/archive/archive.go
// Brief: Streams a directory tree into a jar-compatible ZIP archive.

// Package archive serializes a staged directory tree into a single
// ZIP-compatible deploy archive. Entry names are forward-slash paths relative
// to the tree root; directories are emitted before their children and file
// content is streamed through a fixed-size buffer.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	digest "github.com/opencontainers/go-digest"
)

const (
	// Extension is the archive's standard file extension.
	Extension = ".jar"
	// ManifestName is the implicit first entry of every archive.
	ManifestName = "META-INF/MANIFEST.MF"
	// ManifestVersion is the only attribute the manifest declares.
	ManifestVersion = "1.0"

	defaultBufferSize = 32 * 1024
)

// DefaultManifestTime stamps the manifest when Options.ManifestTime is zero.
// It is the earliest time a ZIP header can hold, so identical trees produce
// byte-identical archives.
var DefaultManifestTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// ErrDuplicateEntry is returned when the tree holds a file at ManifestName.
var ErrDuplicateEntry = errors.New("duplicate archive entry")

// Options tunes Build.
type Options struct {
	// ManifestTime stamps the manifest entry. Zero means DefaultManifestTime.
	ManifestTime time.Time
	// BufferSize is the read/write buffer used per file. Zero means 32KiB.
	BufferSize int
}

// BuildResult describes what Build wrote, manifest excluded.
type BuildResult struct {
	Entries []string `json:"entries,omitempty"`
	Dirs    int      `json:"dirs"`
	Files   int      `json:"files"`
	Bytes   int64    `json:"bytes"`
}

// WriteResult is a BuildResult for an archive written to disk.
type WriteResult struct {
	BuildResult
	Path   string        `json:"path"`
	Size   int64         `json:"size"`
	Digest digest.Digest `json:"digest"`
}

// ManifestContent returns the manifest body written as the first entry.
func ManifestContent() []byte {
	return []byte("Manifest-Version: " + ManifestVersion + "\r\n\r\n")
}

// Build writes every node under rootDir to w as one ZIP stream. Any error
// aborts immediately and leaves w holding a truncated, unusable archive.
func Build(ctx context.Context, rootDir string, w io.Writer, opts Options) (*BuildResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	root := filepath.Clean(rootDir)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat archive root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("archive root %s is not a directory", root)
	}
	size := opts.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}

	b := &builder{
		ctx:    ctx,
		root:   root,
		zw:     zip.NewWriter(w),
		buf:    make([]byte, size),
		result: &BuildResult{},
	}
	manifestTime := opts.ManifestTime
	if manifestTime.IsZero() {
		manifestTime = DefaultManifestTime
	}
	if err := b.writeManifest(manifestTime); err != nil {
		return nil, err
	}
	children, err := readDirNames(root)
	if err != nil {
		return nil, err
	}
	for _, name := range children {
		if err := b.add(filepath.Join(root, name)); err != nil {
			return nil, err
		}
	}
	if err := b.zw.Close(); err != nil {
		return nil, fmt.Errorf("finish archive: %w", err)
	}
	return b.result, nil
}

// WriteFile builds rootDir into an archive at path. The archive is written to
// a temporary file beside path and renamed into place, so path never holds a
// partial archive.
func WriteFile(ctx context.Context, rootDir, path string, opts Options) (*WriteResult, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("archive path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	cleanupTmp := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	digester := digest.Canonical.Digester()
	counter := &countingWriter{w: io.MultiWriter(tmp, digester.Hash())}
	res, err := Build(ctx, rootDir, counter, opts)
	if err != nil {
		cleanupTmp()
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		cleanupTmp()
		return nil, fmt.Errorf("sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return &WriteResult{
		BuildResult: *res,
		Path:        path,
		Size:        counter.n,
		Digest:      digester.Digest(),
	}, nil
}

type builder struct {
	ctx    context.Context
	root   string
	zw     *zip.Writer
	buf    []byte
	result *BuildResult
}

func (b *builder) writeManifest(mod time.Time) error {
	hdr := &zip.FileHeader{Name: ManifestName, Method: zip.Deflate, Modified: mod}
	w, err := b.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("open manifest entry: %w", err)
	}
	if _, err := w.Write(ManifestContent()); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (b *builder) add(path string) error {
	select {
	case <-b.ctx.Done():
		return b.ctx.Err()
	default:
	}
	// Stat, not Lstat: symbolic links are archived as the node they point at.
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	name, err := b.entryName(path)
	if err != nil {
		return err
	}

	if fi.IsDir() {
		if name != "" {
			if err := b.writeDir(name+"/", fi); err != nil {
				return err
			}
		}
		children, err := readDirNames(path)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := b.add(filepath.Join(path, child)); err != nil {
				return err
			}
		}
		return nil
	}
	return b.writeFile(name, path, fi)
}

func (b *builder) entryName(path string) (string, error) {
	rel, err := filepath.Rel(b.root, path)
	if err != nil {
		return "", fmt.Errorf("entry name for %s: %w", path, err)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

func (b *builder) writeDir(name string, fi os.FileInfo) error {
	hdr := &zip.FileHeader{Name: name, Method: zip.Store, Modified: fi.ModTime()}
	hdr.SetMode(fi.Mode())
	if _, err := b.zw.CreateHeader(hdr); err != nil {
		return fmt.Errorf("open directory entry %s: %w", name, err)
	}
	b.result.Entries = append(b.result.Entries, name)
	b.result.Dirs++
	return nil
}

func (b *builder) writeFile(name, path string, fi os.FileInfo) error {
	if name == ManifestName {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}
	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: fi.ModTime()}
	hdr.SetMode(fi.Mode())
	w, err := b.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("open entry %s: %w", name, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	// Hide WriterTo so the copy goes through b.buf.
	n, err := io.CopyBuffer(w, struct{ io.Reader }{f}, b.buf)
	if err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	b.result.Entries = append(b.result.Entries, name)
	b.result.Files++
	b.result.Bytes += n
	return nil
}

// readDirNames lists a directory's children sorted by name so archives are
// reproducible across platforms.
func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
