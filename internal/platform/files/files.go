// Package files holds crash safe file helpers shared by the workers and the sink
package files

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	perr "stallwatch/internal/platform/errors"

	"github.com/google/uuid"
)

// TempSuffix marks in flight files; listings skip them
const TempSuffix = ".part"

// seams for tests
var (
	rename = os.Rename
	syncFn = func(f *os.File) error { return f.Sync() }
)

// WriteAtomic writes data to a temp file in the target directory, fsyncs it and renames it over path
// a cancelled ctx before the rename discards the temp file and leaves path untouched
func WriteAtomic(ctx context.Context, path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+TempSuffix)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeResource, "create temp for %s", filepath.Base(path))
	}
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return perr.Wrapf(err, perr.ErrorCodeResource, "write %s", filepath.Base(path))
	}
	if err := syncFn(f); err != nil {
		_ = f.Close()
		cleanup()
		return perr.Wrapf(err, perr.ErrorCodeResource, "fsync %s", filepath.Base(path))
	}
	if err := f.Close(); err != nil {
		cleanup()
		return perr.Wrapf(err, perr.ErrorCodeResource, "close %s", filepath.Base(path))
	}
	if err := ctx.Err(); err != nil {
		cleanup()
		return perr.Wrapf(err, perr.ErrorCodeProcess, "write %s aborted", filepath.Base(path))
	}
	if err := rename(tmp, path); err != nil {
		cleanup()
		return perr.Wrapf(err, perr.ErrorCodeResource, "rename %s", filepath.Base(path))
	}
	return nil
}

// Entry is one regular file in a listing
type Entry struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// List returns the regular files in dir, skipping temp files and any name in exclude
// a missing dir is an empty listing
func List(dir string, exclude ...string) ([]Entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeResource, "list %s", dir)
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		skip[e] = struct{}{}
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		name := de.Name()
		if !de.Type().IsRegular() || strings.HasSuffix(name, TempSuffix) {
			continue
		}
		if _, ok := skip[name]; ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		out = append(out, Entry{Name: name, Path: filepath.Join(dir, name), ModTime: info.ModTime(), Size: info.Size()})
	}
	return out, nil
}

// Latest returns the newest entry by mtime, ties by name
func Latest(dir string, exclude ...string) (Entry, bool, error) {
	es, err := List(dir, exclude...)
	if err != nil || len(es) == 0 {
		return Entry{}, false, err
	}
	best := es[0]
	for _, e := range es[1:] {
		if e.ModTime.After(best.ModTime) || (e.ModTime.Equal(best.ModTime) && e.Name > best.Name) {
			best = e
		}
	}
	return best, true, nil
}

// Stamp returns a millisecond file name such as frame_1717171717171.jpg
func Stamp(prefix string, t time.Time, ext string) string {
	return prefix + "_" + strconv.FormatInt(t.UnixMilli(), 10) + ext
}
