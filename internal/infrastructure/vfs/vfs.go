// Package vfs implements the per-extension sandbox filesystem: an in-memory
// tree that takes every write, backed by a read-only, root-confined view of
// the host filesystem.
package vfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
)

// MaxPathLength bounds every path accepted by the filesystem.
const MaxPathLength = 4096

// Source tags in ports.FileInfo.
const (
	SourceVFS  = "vfs"
	SourceHost = "host"
)

// Virtual directories created for every filesystem.
const (
	HomeDir = "/home/extension"
	TempDir = "/tmp"
)

// Options configures a FS.
type Options struct {
	// HostFallback enables read-only access to files under the root.
	HostFallback bool
	// MaxReadBytes bounds host reads. Zero means unlimited.
	MaxReadBytes int64
}

type node struct {
	dir     bool
	data    []byte
	modTime time.Time
}

// FS is the sandbox filesystem of one extension. It is safe for concurrent
// use.
type FS struct {
	root string
	opts Options
	now  func() time.Time

	mu    sync.RWMutex
	nodes map[string]*node
}

// New creates a filesystem rooted at root. The root is canonicalized; it
// must exist on the host.
func New(root string, opts Options) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}

	f := &FS{
		root:  canonical,
		opts:  opts,
		now:   time.Now,
		nodes: make(map[string]*node),
	}
	for _, dir := range []string{canonical, HomeDir, TempDir} {
		f.mkdirAllLocked(dir)
	}
	return f, nil
}

// Factory returns a ports.FileSystemFactory producing filesystems with opts.
func Factory(opts Options) ports.FileSystemFactory {
	return func(root string) (ports.FileSystem, error) {
		return New(root, opts)
	}
}

// Root returns the canonical root.
func (f *FS) Root() string {
	return f.root
}

// Clean validates p and returns its absolute, lexically clean form.
// Relative paths are joined onto the root.
func (f *FS) Clean(p string) (string, error) {
	return cleanPath(f.root, p)
}

func cleanPath(root, p string) (string, error) {
	if p == "" || strings.ContainsRune(p, 0) {
		return "", ErrInvalidPath
	}
	if len(p) > MaxPathLength {
		return "", ErrPathTooLong
	}
	if strings.HasPrefix(p, "file://") {
		p = strings.TrimPrefix(p, "file://")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	if len(p) > MaxPathLength {
		return "", ErrPathTooLong
	}
	return p, nil
}

// Read implements ports.FileSystem.
func (f *FS) Read(p string) ([]byte, error) {
	clean, err := f.Clean(p)
	if err != nil {
		return nil, pathErr("open", p, err)
	}

	f.mu.RLock()
	n, ok := f.nodes[clean]
	var data []byte
	if ok && !n.dir {
		data = append([]byte(nil), n.data...)
	}
	f.mu.RUnlock()

	if ok {
		if n.dir {
			return nil, pathErr("read", clean, ErrIsDir)
		}
		return data, nil
	}
	data, err = f.hostRead(clean)
	if err != nil {
		return nil, pathErr("open", clean, err)
	}
	return data, nil
}

// Stat implements ports.FileSystem.
func (f *FS) Stat(p string) (ports.FileInfo, error) {
	clean, err := f.Clean(p)
	if err != nil {
		return ports.FileInfo{}, pathErr("stat", p, err)
	}

	f.mu.RLock()
	n, ok := f.nodes[clean]
	var info ports.FileInfo
	if ok {
		info = nodeInfo(clean, n)
	}
	f.mu.RUnlock()
	if ok {
		return info, nil
	}

	info, err = f.hostStat(clean)
	if err != nil {
		return ports.FileInfo{}, pathErr("stat", clean, err)
	}
	return info, nil
}

// Write implements ports.FileSystem. The parent directory must exist.
func (f *FS) Write(p string, data []byte) error {
	clean, err := f.Clean(p)
	if err != nil {
		return pathErr("open", p, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if n, ok := f.nodes[clean]; ok && n.dir {
		return pathErr("open", clean, ErrIsDir)
	}
	if err := f.parentExistsLocked(clean); err != nil {
		return pathErr("open", clean, err)
	}
	f.nodes[clean] = &node{data: append([]byte(nil), data...), modTime: f.now()}
	return nil
}

// Append implements ports.FileSystem. Appending to a host file copies it
// into the in-memory tree first.
func (f *FS) Append(p string, data []byte) error {
	clean, err := f.Clean(p)
	if err != nil {
		return pathErr("open", p, err)
	}

	f.mu.RLock()
	_, inMemory := f.nodes[clean]
	f.mu.RUnlock()

	var base []byte
	if !inMemory {
		base, err = f.hostRead(clean)
		if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrOutsideRoot) {
			return pathErr("open", clean, err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if n, ok := f.nodes[clean]; ok {
		if n.dir {
			return pathErr("open", clean, ErrIsDir)
		}
		n.data = append(n.data, data...)
		n.modTime = f.now()
		return nil
	}
	if err := f.parentExistsLocked(clean); err != nil {
		return pathErr("open", clean, err)
	}
	f.nodes[clean] = &node{data: append(base, data...), modTime: f.now()}
	return nil
}

// Mkdir implements ports.FileSystem.
func (f *FS) Mkdir(p string, recursive bool) error {
	clean, err := f.Clean(p)
	if err != nil {
		return pathErr("mkdir", p, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if n, ok := f.nodes[clean]; ok {
		if recursive && n.dir {
			return nil
		}
		return pathErr("mkdir", clean, ErrExists)
	}
	if recursive {
		if err := f.checkNoFileAncestorLocked(clean); err != nil {
			return pathErr("mkdir", clean, err)
		}
		f.mkdirAllLocked(clean)
		return nil
	}
	if err := f.parentExistsLocked(clean); err != nil {
		return pathErr("mkdir", clean, err)
	}
	f.nodes[clean] = &node{dir: true, modTime: f.now()}
	return nil
}

// Remove implements ports.FileSystem. Only in-memory nodes can be removed.
func (f *FS) Remove(p string, recursive bool) error {
	clean, err := f.Clean(p)
	if err != nil {
		return pathErr("rm", p, err)
	}

	f.mu.Lock()
	n, ok := f.nodes[clean]
	if ok {
		defer f.mu.Unlock()
		if !n.dir {
			delete(f.nodes, clean)
			return nil
		}
		children := f.descendantsLocked(clean)
		if len(children) > 0 && !recursive {
			return pathErr("rmdir", clean, ErrNotEmpty)
		}
		for _, c := range children {
			delete(f.nodes, c)
		}
		delete(f.nodes, clean)
		return nil
	}
	f.mu.Unlock()

	if _, err := f.hostStat(clean); err == nil {
		return pathErr("rm", clean, ErrReadOnly)
	}
	return pathErr("rm", clean, ErrNotFound)
}

// List implements ports.FileSystem. Only the in-memory tree is listed.
func (f *FS) List(p string) ([]ports.FileInfo, error) {
	clean, err := f.Clean(p)
	if err != nil {
		return nil, pathErr("scandir", p, err)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	n, ok := f.nodes[clean]
	if !ok {
		return nil, pathErr("scandir", clean, ErrNotFound)
	}
	if !n.dir {
		return nil, pathErr("scandir", clean, ErrNotDir)
	}

	var out []ports.FileInfo
	for path, child := range f.nodes {
		if path != clean && filepath.Dir(path) == clean {
			out = append(out, nodeInfo(path, child))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *FS) mkdirAllLocked(p string) {
	for dir := p; ; dir = filepath.Dir(dir) {
		if n, ok := f.nodes[dir]; ok && n.dir {
			return
		}
		f.nodes[dir] = &node{dir: true, modTime: f.now()}
		if dir == filepath.Dir(dir) {
			return
		}
	}
}

func (f *FS) checkNoFileAncestorLocked(p string) error {
	for dir := filepath.Dir(p); ; dir = filepath.Dir(dir) {
		if n, ok := f.nodes[dir]; ok && !n.dir {
			return ErrNotDir
		}
		if dir == filepath.Dir(dir) {
			return nil
		}
	}
}

// parentExistsLocked accepts in-memory directories and, with fallback
// enabled, host directories inside the root.
func (f *FS) parentExistsLocked(p string) error {
	parent := filepath.Dir(p)
	if n, ok := f.nodes[parent]; ok {
		if !n.dir {
			return ErrNotDir
		}
		return nil
	}
	info, err := f.hostStat(parent)
	if err != nil {
		return ErrNotFound
	}
	if !info.IsDir {
		return ErrNotDir
	}
	return nil
}

func (f *FS) descendantsLocked(dir string) []string {
	prefix := dir + string(filepath.Separator)
	if dir == string(filepath.Separator) {
		prefix = dir
	}
	var out []string
	for path := range f.nodes {
		if path != dir && strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
	}
	return out
}

// resolveHost canonicalizes a clean path and checks it stays under the root,
// both lexically and after resolving symlinks.
func (f *FS) resolveHost(clean string) (string, error) {
	if !f.opts.HostFallback {
		return "", ErrNotFound
	}
	if !within(f.root, clean) {
		return "", ErrOutsideRoot
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", ErrInvalidPath
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	if !within(f.root, resolved) {
		return "", ErrOutsideRoot
	}
	return resolved, nil
}

func (f *FS) hostStat(clean string) (ports.FileInfo, error) {
	resolved, err := f.resolveHost(clean)
	if err != nil {
		return ports.FileInfo{}, err
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ports.FileInfo{}, ErrNotFound
		}
		return ports.FileInfo{}, err
	}
	if !fi.Mode().IsRegular() && !fi.IsDir() {
		return ports.FileInfo{}, ErrIrregular
	}
	return ports.FileInfo{
		Name:    filepath.Base(clean),
		Path:    clean,
		Size:    fi.Size(),
		IsDir:   fi.IsDir(),
		ModTime: fi.ModTime(),
		Source:  SourceHost,
	}, nil
}

func (f *FS) hostRead(clean string) ([]byte, error) {
	resolved, err := f.resolveHost(clean)
	if err != nil {
		return nil, err
	}

	// Opening a FIFO or device blocks in open(2), so the type is checked
	// on the path before the file is opened.
	before, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if before.IsDir() {
		return nil, ErrIsDir
	}
	if !before.Mode().IsRegular() {
		return nil, ErrIrregular
	}

	//nolint:gosec // G304: path is canonicalized and confined to the root above
	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer func() {
		_ = file.Close() // Best-effort cleanup
	}()

	fi, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() || !os.SameFile(before, fi) {
		return nil, ErrIrregular
	}

	limit := f.opts.MaxReadBytes
	if limit > 0 && fi.Size() > limit {
		return nil, ErrTooLarge
	}
	var r io.Reader = file
	if limit > 0 {
		r = io.LimitReader(file, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

func nodeInfo(path string, n *node) ports.FileInfo {
	return ports.FileInfo{
		Name:    filepath.Base(path),
		Path:    path,
		Size:    int64(len(n.data)),
		IsDir:   n.dir,
		ModTime: n.modTime,
		Source:  SourceVFS,
	}
}

func within(root, p string) bool {
	if p == root {
		return true
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
