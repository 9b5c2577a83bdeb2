package client

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// splitName splits at the first dot that is not the leading one:
// "a.tar.gz" -> ("a", ".tar.gz"), ".bashrc" -> (".bashrc", "").
func splitName(name string) (string, string) {
	if len(name) < 2 {
		return name, ""
	}

	idx := strings.Index(name[1:], ".")
	if idx < 0 {
		return name, ""
	}

	return name[:idx+1], name[idx+1:]
}

// UniqueName returns `name` if `exists` says it is free, otherwise
// the first of name2.ext, name3.ext, ... that is free.
func UniqueName(name string, exists func(name string) bool) string {
	if !exists(name) {
		return name
	}

	stem, ext := splitName(name)
	for counter := 2; ; counter++ {
		candidate := stem + strconv.Itoa(counter) + ext
		if !exists(candidate) {
			return candidate
		}
	}
}

// SaveUnique writes `data` into `dir` under the base name of `name`.
// Existing files are never overwritten; a counter is added to the name
// instead. The path of the written file is returned.
func SaveUnique(dir, name string, data []byte) (string, error) {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." {
		return "", errors.Errorf("cannot save %q: no file name", name)
	}

	exists := func(candidate string) bool {
		_, err := os.Lstat(filepath.Join(dir, candidate))
		return err == nil
	}

	for attempt := 0; attempt < 10; attempt++ {
		path := filepath.Join(dir, UniqueName(base, exists))
		fd, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if os.IsExist(err) {
			// Someone was faster; look for the next free name.
			continue
		}

		if err != nil {
			return "", errors.Wrap(err, "create file")
		}

		if _, err := fd.Write(data); err != nil {
			fd.Close()
			return "", errors.Wrap(err, "write file")
		}

		return path, fd.Close()
	}

	return "", errors.Errorf("cannot find a free name for %q", name)
}
