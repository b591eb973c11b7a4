package vfs

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	ErrNotFound    = errors.New("no such file or directory")
	ErrExists      = errors.New("file already exists")
	ErrIsDir       = errors.New("is a directory")
	ErrNotDir      = errors.New("not a directory")
	ErrNotEmpty    = errors.New("directory not empty")
	ErrOutsideRoot = errors.New("path escapes the extension root")
	ErrReadOnly    = errors.New("host files are read-only")
	ErrIrregular   = errors.New("not a regular file")
	ErrTooLarge    = errors.New("file exceeds maximum read size")
	ErrPathTooLong = errors.New("path too long")
	ErrInvalidPath = errors.New("invalid path")
)

var errnos = map[error]string{
	ErrNotFound:    "ENOENT",
	ErrExists:      "EEXIST",
	ErrIsDir:       "EISDIR",
	ErrNotDir:      "ENOTDIR",
	ErrNotEmpty:    "ENOTEMPTY",
	ErrOutsideRoot: "EACCES",
	ErrReadOnly:    "EROFS",
	ErrIrregular:   "EACCES",
	ErrTooLarge:    "EFBIG",
	ErrPathTooLong: "ENAMETOOLONG",
	ErrInvalidPath: "EINVAL",
}

// PathError records a failed operation on a path, formatted the way Node
// reports filesystem errors.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %s, %s '%s'", Errno(e.Err), e.Err, e.Op, e.Path)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// Errno returns the POSIX error name of a VFS error, or "EIO".
func Errno(err error) string {
	for sentinel, name := range errnos {
		if errors.Is(err, sentinel) {
			return name
		}
	}
	return "EIO"
}

func pathErr(op, path string, err error) error {
	return &PathError{Op: op, Path: path, Err: err}
}
