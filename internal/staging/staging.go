// File: internal/staging/staging.go
// Brief: Disposable staging tree that mirrors the deploy archive layout.

// Package staging owns the filesystem side of a pack run: wiping and
// recreating the staging tree, mirroring the compiled output into it and
// copying dependency files into its lib directory. Sources are only ever read.
package staging

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/pkg/errors"
)

const (
	// RootDirName is the staging subdirectory that becomes the archive root.
	RootDirName = "root"
	// LibDirName holds retained dependencies inside the archive root.
	LibDirName = "lib"
	// IgnoreFileName lists exclude patterns at the top of the compiled output.
	IgnoreFileName = ".hdeployignore"

	copyBufferSize = 32 * 1024
)

// Layout names the directories of one staging tree.
type Layout struct {
	OutputDir string
	Root      string
	Lib       string
}

// NewLayout derives the staging layout under outputDir.
func NewLayout(outputDir string) Layout {
	root := filepath.Join(outputDir, RootDirName)
	return Layout{
		OutputDir: outputDir,
		Root:      root,
		Lib:       filepath.Join(root, LibDirName),
	}
}

// Reset deletes everything under l.OutputDir and recreates root/ and root/lib/.
func Reset(l Layout) error {
	if err := os.RemoveAll(l.OutputDir); err != nil {
		return errors.Wrapf(err, "remove staging directory %s", l.OutputDir)
	}
	if err := os.MkdirAll(l.Lib, 0o755); err != nil {
		return errors.Wrapf(err, "create staging directory %s", l.Lib)
	}
	return nil
}

// CopyStats summarises a CopyTree call.
type CopyStats struct {
	Dirs    int   `json:"dirs"`
	Files   int   `json:"files"`
	Bytes   int64 `json:"bytes"`
	Skipped int   `json:"skipped"`
}

// CopyOptions tunes CopyTree.
type CopyOptions struct {
	// Excludes are .dockerignore-style patterns relative to the source root.
	Excludes []string
	// IgnoreFile, when true, also reads <src>/.hdeployignore if present.
	IgnoreFile bool
}

// CopyTree mirrors the contents of src into dst, preserving relative paths,
// file modes and modification times. dst must already exist.
func CopyTree(ctx context.Context, src, dst string, opts CopyOptions) (CopyStats, error) {
	var stats CopyStats
	if ctx == nil {
		ctx = context.Background()
	}
	info, err := os.Stat(src)
	if err != nil {
		return stats, errors.Wrapf(err, "read compiled output %s", src)
	}
	if !info.IsDir() {
		return stats, errors.Errorf("compiled output %s is not a directory", src)
	}

	patterns := append([]string(nil), opts.Excludes...)
	if opts.IgnoreFile {
		more, err := readIgnoreFile(filepath.Join(src, IgnoreFileName))
		if err != nil {
			return stats, err
		}
		patterns = append(patterns, more...)
	}
	c := &treeCopier{ctx: ctx, ignoreFile: opts.IgnoreFile, buf: make([]byte, copyBufferSize)}
	if len(patterns) > 0 {
		if c.matcher, err = patternmatcher.New(patterns); err != nil {
			return stats, errors.Wrap(err, "compile exclude patterns")
		}
	}
	err = c.copy(src, dst, "")
	return c.stats, err
}

// treeCopier carries the exclude matcher through linked directories so
// patterns keep applying to paths relative to the original source root.
type treeCopier struct {
	ctx        context.Context
	matcher    *patternmatcher.PatternMatcher
	ignoreFile bool
	buf        []byte
	stats      CopyStats
}

// copy mirrors src into dst. prefix is the slash path of src below the
// source root CopyTree was called with.
func (c *treeCopier) copy(src, dst, prefix string) error {
	type dirTime struct {
		path string
		mod  time.Time
	}
	var dirTimes []dirTime

	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		default:
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		slashRel := path.Join(prefix, filepath.ToSlash(rel))
		if c.ignoreFile && slashRel == IgnoreFileName {
			c.stats.Skipped++
			return nil
		}
		if c.matcher != nil {
			ignored, err := c.matcher.MatchesOrParentMatches(slashRel)
			if err != nil {
				return errors.Wrapf(err, "match exclude patterns for %s", slashRel)
			}
			if ignored {
				c.stats.Skipped++
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		target := filepath.Join(dst, rel)
		// Stat follows symlinks so linked files and directories are copied as content.
		fi, err := os.Stat(p)
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if err := os.MkdirAll(target, fi.Mode().Perm()|0o700); err != nil {
				return err
			}
			dirTimes = append(dirTimes, dirTime{path: target, mod: fi.ModTime()})
			c.stats.Dirs++
			if d.Type()&fs.ModeSymlink != 0 {
				resolved, err := filepath.EvalSymlinks(p)
				if err != nil {
					return err
				}
				return c.copy(resolved, target, slashRel)
			}
			return nil
		}
		n, err := copyFile(p, target, fi, c.buf)
		if err != nil {
			return err
		}
		c.stats.Files++
		c.stats.Bytes += n
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "copy %s to %s", src, dst)
	}
	// Children touch their parent's mtime, so directories are stamped last.
	for i := len(dirTimes) - 1; i >= 0; i-- {
		if err := os.Chtimes(dirTimes[i].path, dirTimes[i].mod, dirTimes[i].mod); err != nil {
			return errors.Wrapf(err, "set modification time on %s", dirTimes[i].path)
		}
	}
	return nil
}

// CopyFileToDir copies src into dir under its own base name and returns the
// destination path.
func CopyFileToDir(src, dir string) (string, int64, error) {
	fi, err := os.Stat(src)
	if err != nil {
		return "", 0, errors.Wrapf(err, "read dependency %s", src)
	}
	if fi.IsDir() {
		return "", 0, errors.Errorf("dependency %s is a directory", src)
	}
	target := filepath.Join(dir, filepath.Base(src))
	n, err := copyFile(src, target, fi, make([]byte, copyBufferSize))
	if err != nil {
		return "", 0, errors.Wrapf(err, "copy dependency %s", src)
	}
	return target, n, nil
}

func copyFile(src, dst string, fi os.FileInfo, buf []byte) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fi.Mode().Perm())
	if err != nil {
		return 0, err
	}
	n, copyErr := io.CopyBuffer(out, in, buf)
	closeErr := out.Close()
	if copyErr != nil {
		return n, copyErr
	}
	if closeErr != nil {
		return n, closeErr
	}
	if err := os.Chtimes(dst, fi.ModTime(), fi.ModTime()); err != nil {
		return n, err
	}
	return n, nil
}

func readIgnoreFile(file string) ([]string, error) {
	f, err := os.Open(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read %s", file)
	}
	defer f.Close()
	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", file)
	}
	out := patterns[:0]
	for _, p := range patterns {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// Contains reports whether child is parent or lies beneath it.
func Contains(parent, child string) bool {
	parent = filepath.Clean(parent)
	child = filepath.Clean(child)
	if parent == child {
		return true
	}
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
