package client

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/studentsync"
)

const (
	// Pushes are split into FILELIST messages of about this many content bytes.
	pushBatchBytes = 16 << 20

	readConcurrency = 8
)

// Dir synchronizes a directory tree with a server.
// Files are named by their slash-separated paths relative to the root.
type Dir struct {
	FS     afero.Fs
	Root   string
	Logger *zap.Logger
}

// Result tells what a call to Dir.Sync transferred.
type Result struct {
	Pushed []string
	Pulled []string
}

// Sync brings the directory and the server up to date with each other:
// it reports the directory's files,
// pushes the ones the server lacks,
// then pulls and writes the ones the directory lacks.
// Existing local files are never overwritten.
func (d *Dir) Sync(ctx context.Context, c *Client) (Result, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var res Result

	names, err := d.Names()
	if err != nil {
		return res, err
	}

	missing, err := c.Report(ctx, names)
	if err != nil {
		return res, errors.Wrap(err, "reporting files")
	}

	files, err := d.read(ctx, missing)
	if err != nil {
		return res, err
	}
	for len(files) > 0 {
		var (
			n    int
			size int
		)
		for n < len(files) && (n == 0 || size+len(files[n].Content) <= pushBatchBytes) {
			size += len(files[n].Content)
			n++
		}
		if err = c.Push(ctx, files[:n]); err != nil {
			return res, errors.Wrapf(err, "pushing %d files", n)
		}
		for _, f := range files[:n] {
			res.Pushed = append(res.Pushed, f.Name)
			logger.Info("pushed file", zap.String("name", f.Name), zap.Int("size", len(f.Content)))
		}
		files = files[n:]
	}

	pulled, err := c.Pull(ctx)
	if err != nil {
		return res, errors.Wrap(err, "pulling files")
	}

	have := make(map[string]bool, len(names))
	for _, name := range names {
		have[name] = true
	}
	for _, f := range pulled {
		if have[f.Name] {
			continue
		}
		p, err := d.localPath(f.Name)
		if err != nil {
			logger.Warn("skipping pulled file", zap.String("name", f.Name), zap.Error(err))
			continue
		}
		if err = d.FS.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return res, errors.Wrapf(err, "creating directory for %s", f.Name)
		}
		if err = afero.WriteFile(d.FS, p, f.Content, 0644); err != nil {
			return res, errors.Wrapf(err, "writing %s", f.Name)
		}
		res.Pulled = append(res.Pulled, f.Name)
		logger.Info("pulled file", zap.String("name", f.Name), zap.Int("size", len(f.Content)))
	}

	return res, nil
}

// Names returns the sorted names of the regular files under the root.
func (d *Dir) Names() ([]string, error) {
	var names []string
	err := afero.Walk(d.FS, d.Root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(d.Root, p)
		if err != nil {
			return errors.Wrapf(err, "relativizing %s", p)
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walking %s", d.Root)
	}
	sort.Strings(names)
	return names, nil
}

func (d *Dir) read(ctx context.Context, names []string) ([]studentsync.FileRecord, error) {
	files := make([]studentsync.FileRecord, len(names))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := d.localPath(name)
			if err != nil {
				return err
			}
			content, err := afero.ReadFile(d.FS, p)
			if err != nil {
				return errors.Wrapf(err, "reading %s", name)
			}
			files[i] = studentsync.FileRecord{Name: name, Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// localPath maps a file name to a path under the root,
// rejecting names that would land outside it.
func (d *Dir) localPath(name string) (string, error) {
	clean := path.Clean(name)
	if name == "" || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(name, `\`) {
		return "", errors.Errorf("unsafe file name %q", name)
	}
	return filepath.Join(d.Root, filepath.FromSlash(clean)), nil
}
