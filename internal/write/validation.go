package write

import (
	"fmt"
	"io/fs"
	"os"
)

// CheckFileUnchanged verifies a file wasn't modified during write.
// In strict mode, it compares size, mtime, and permissions before/after.
func CheckFileUnchanged(f *os.File, name string, before fs.FileInfo, strict bool) error {
	if !strict {
		return nil
	}
	after, err := f.Stat()
	if err != nil {
		return err
	}
	if after.Size() != before.Size() || !after.ModTime().Equal(before.ModTime()) || after.Mode().Perm() != before.Mode().Perm() {
		return fmt.Errorf("file changed during archive creation: %s", name)
	}
	return nil
}

// ResolveEntryInfo gets FileInfo for a walked entry, filtering out symlinks
// and non-regular files. Returns (info, ok, error) where ok=false means the
// entry should be skipped.
func ResolveEntryInfo(root *os.Root, fsPath string, d fs.DirEntry) (fs.FileInfo, bool, error) {
	if d.Type() != 0 {
		return nil, false, nil
	}
	info, err := root.Lstat(fsPath)
	if err != nil {
		return nil, false, err
	}
	if !info.Mode().IsRegular() {
		return nil, false, nil
	}
	return info, true, nil
}
