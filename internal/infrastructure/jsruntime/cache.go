package jsruntime

import (
	"encoding/hex"
	"sync"

	"github.com/dop251/goja"
	"github.com/zeebo/blake3"
)

// ProgramCache shares compiled programs across runtimes. Programs are
// immutable once compiled and goja allows running one program in many VMs.
type ProgramCache struct {
	mu       sync.RWMutex
	programs map[string]*goja.Program
	hits     uint64
	misses   uint64
}

// NewProgramCache creates an empty cache.
func NewProgramCache() *ProgramCache {
	return &ProgramCache{programs: make(map[string]*goja.Program)}
}

// globalCache speeds up loading the same extension or shim across runtimes.
var globalCache = NewProgramCache()

func cacheKey(name, src string) string {
	h := blake3.New()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(src))
	return hex.EncodeToString(h.Sum(nil))
}

// Compile returns the cached program for (name, src), compiling it on a miss.
func (c *ProgramCache) Compile(name, src string) (*goja.Program, error) {
	key := cacheKey(name, src)

	c.mu.RLock()
	prog, ok := c.programs[key]
	c.mu.RUnlock()
	if ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return prog, nil
	}

	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.misses++
	if existing, ok := c.programs[key]; ok {
		return existing, nil
	}
	c.programs[key] = prog
	return prog, nil
}

// Stats returns hit and miss counts.
func (c *ProgramCache) Stats() (hits, misses uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Len returns the number of cached programs.
func (c *ProgramCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}
