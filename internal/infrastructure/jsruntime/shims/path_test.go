package shims

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathHelpers(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"join", PathJoin("a", "b", "../c"), "a/c"},
		{"join empty", PathJoin("", ""), "."},
		{"join trailing", PathJoin("a/", "b/"), "a/b/"},
		{"normalize", PathNormalize("/a//b/./c/.."), "/a/b"},
		{"resolve relative", PathResolve("/root", "x", "y"), "/root/x/y"},
		{"resolve absolute wins", PathResolve("/root", "x", "/abs", "y"), "/abs/y"},
		{"resolve nothing", PathResolve("/root"), "/root"},
		{"relative sibling", PathRelative("/", "/a/b", "/a/c/d"), "../c/d"},
		{"relative same", PathRelative("/", "/a", "/a"), ""},
		{"dirname", PathDirname("/a/b/c.txt"), "/a/b"},
		{"dirname root", PathDirname("/a"), "/"},
		{"dirname bare", PathDirname("file"), "."},
		{"basename", PathBasename("/a/b/c.txt", ""), "c.txt"},
		{"basename ext", PathBasename("/a/b/c.txt", ".txt"), "c"},
		{"extname", PathExtname("archive.tar.gz"), ".gz"},
		{"extname dotfile", PathExtname(".bashrc"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestPathModule(t *testing.T) {
	h := newTestHost(t)
	h.run(`var path = require('node:path');`)

	assert.Equal(t, h.Root()+"/lib/x.js", h.run(`path.resolve('lib', 'x.js')`).String())
	assert.Equal(t, "/", h.run(`path.sep`).String())
	assert.True(t, h.run(`path.isAbsolute('/a') && !path.isAbsolute('a')`).ToBoolean())
	assert.Equal(t, `{"root":"/","dir":"/home/u","base":"f.txt","ext":".txt","name":"f"}`,
		h.run(`JSON.stringify(path.parse('/home/u/f.txt'))`).String())
	assert.Equal(t, "/home/u/f.txt", h.run(`path.format({dir: '/home/u', name: 'f', ext: 'txt'})`).String())
	assert.True(t, h.run(`path.posix === path`).ToBoolean())

	_, err := h.vm.RunString(`path.join('a', 42)`)
	assert.ErrorContains(t, err, "must be of type string")
	assert.Empty(t, h.calls)
}
