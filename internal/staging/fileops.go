package staging

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rescale/simchain/internal/constants"
	"github.com/rescale/simchain/internal/pathutil"
	"github.com/rescale/simchain/internal/progress"
)

// identical reports whether dst already holds what src holds: the same
// file, a link resolving to src, or byte-identical content.
func identical(src, dst string) (bool, error) {
	info, err := os.Lstat(dst)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		resolved, err := pathutil.ResolveLink(dst)
		if err != nil {
			return false, err
		}
		if resolved == src {
			return true, nil
		}
		dst = resolved
	}

	si, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	di, err := os.Stat(dst)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if os.SameFile(si, di) {
		return true, nil
	}
	switch {
	case si.IsDir() && di.IsDir():
		return sameTree(src, dst)
	case si.Mode().IsRegular() && di.Mode().IsRegular():
		if si.Size() != di.Size() {
			return false, nil
		}
		return sameContent(src, dst)
	}
	return false, nil
}

func sameContent(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	bufA := make([]byte, constants.CompareBufferSize)
	bufB := make([]byte, constants.CompareBufferSize)
	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		doneA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		doneB := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if doneA || doneB {
			return doneA && doneB, nil
		}
		if errA != nil {
			return false, errA
		}
		if errB != nil {
			return false, errB
		}
	}
}

func sameTree(a, b string) (bool, error) {
	ea, err := os.ReadDir(a)
	if err != nil {
		return false, err
	}
	eb, err := os.ReadDir(b)
	if err != nil {
		return false, err
	}
	if len(ea) != len(eb) {
		return false, nil
	}
	for i := range ea {
		if ea[i].Name() != eb[i].Name() {
			return false, nil
		}
		same, err := identical(filepath.Join(a, ea[i].Name()), filepath.Join(b, eb[i].Name()))
		if err != nil || !same {
			return false, err
		}
	}
	return true, nil
}

// copyPath copies a file or directory tree from src to dst. Files are
// written to a temporary name and renamed into place.
func copyPath(src, dst string, counter *progress.Counter) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode().Perm(), counter)
	}
	if err := removeExisting(dst); err != nil {
		return err
	}
	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if fi.IsDir() {
			return os.MkdirAll(target, fi.Mode().Perm()|0700)
		}
		from := path
		if fi.Mode()&os.ModeSymlink != 0 {
			if from, err = pathutil.ResolveLink(path); err != nil {
				return err
			}
			if fi, err = os.Stat(from); err != nil {
				return err
			}
			if fi.IsDir() {
				return copyPath(from, target, counter)
			}
		}
		return copyFile(from, target, fi.Mode().Perm(), counter)
	})
}

func copyFile(src, dst string, perm os.FileMode, counter *progress.Counter) error {
	if err := os.MkdirAll(filepath.Dir(dst), constants.DirPerm); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	var w io.Writer = tmp
	if counter != nil {
		w = counter.Writer(tmp)
	}
	if _, err := io.Copy(w, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := removeExisting(dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dst)
}

// linkPath points dst at target, replacing whatever dst was.
func linkPath(target, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), constants.DirPerm); err != nil {
		return err
	}
	if err := removeExisting(dst); err != nil {
		return err
	}
	return os.Symlink(target, dst)
}

// movePath renames src to dst, falling back to copy and delete across
// filesystems.
func movePath(src, dst string, counter *progress.Counter) error {
	if err := os.MkdirAll(filepath.Dir(dst), constants.DirPerm); err != nil {
		return err
	}
	if err := removeExisting(dst); err != nil {
		return err
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}
	if err := copyPath(src, dst, counter); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func removeExisting(path string) error {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.RemoveAll(path)
	}
	return os.Remove(path)
}

func errorIsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
