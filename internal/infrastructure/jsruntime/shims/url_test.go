package shims

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		input, base string
		want        string
	}{
		{"https://Example.com:443/a/../b?x=1#frag", "", "https://example.com/b?x=1#frag"},
		{"http://user:pw@host:8080/p/", "", "http://user:pw@host:8080/p/"},
		{"../c?q", "https://h.io/a/b/", "https://h.io/a/c?q"},
		{"file:///tmp/x.txt", "", "file:///tmp/x.txt"},
		{"https://h.io", "", "https://h.io/"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			parts, err := ParseURL(tt.input, tt.base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, parts.Href)
		})
	}

	for _, bad := range []string{"not a url", "/relative/only", "https://"} {
		_, err := ParseURL(bad, "")
		assert.Error(t, err, bad)
	}
}

func TestFileURLConversion(t *testing.T) {
	p, err := FileURLToPath("file:///home/a%20b/x.js")
	require.NoError(t, err)
	assert.Equal(t, "/home/a b/x.js", p)

	_, err = FileURLToPath("https://h.io/x")
	assert.Error(t, err)

	assert.Equal(t, "file:///home/a%20b/x.js", PathToFileURL("/home/a b/x.js"))
}

func TestURLClass(t *testing.T) {
	h := newTestHost(t)
	got := h.run(`
		var u = new URL('https://api.example.com/v1/items?limit=10&tag=a&tag=b#top');
		var out = [u.protocol, u.host, u.pathname, u.searchParams.get('limit'),
			u.searchParams.getAll('tag').join('+'), u.hash, u.origin];
		u.searchParams.set('limit', '20');
		u.searchParams.append('q', 'a b');
		out.push(u.search);
		u.pathname = 'v2';
		out.push(u.href);
		out.join(' | ');
	`)
	assert.Equal(t, "https: | api.example.com | /v1/items | 10 | a+b | #top | https://api.example.com | "+
		"?limit=20&tag=a&tag=b&q=a+b | https://api.example.com/v2?limit=20&tag=a&tag=b&q=a+b#top", got.String())

	_, err := h.vm.RunString(`new URL('nope')`)
	assert.ErrorContains(t, err, "invalid URL")
	assert.True(t, h.run(`!URL.canParse('nope') && URL.canParse('/x', 'http://h')`).ToBoolean())
}

func TestURLModuleLegacy(t *testing.T) {
	h := newTestHost(t)
	h.run(`var url = require('url');`)
	assert.Equal(t, "/a/b", h.run(`url.parse('/a/b?x=1').pathname`).String())
	assert.Equal(t, "1", h.run(`url.parse('http://h/p?x=1', true).query.x`).String())
	assert.Equal(t, "https://h.io/p?a=1", h.run(`url.format({protocol: 'https', host: 'h.io', pathname: '/p', query: {a: 1}})`).String())
	assert.Equal(t, "/tmp/f", h.run(`url.fileURLToPath('file:///tmp/f')`).String())
	assert.Equal(t, "file://"+h.Root()+"/x.js", h.run(`url.pathToFileURL('x.js').href`).String())
	assert.Equal(t, "http://h/b", h.run(`url.resolve('http://h/a', '/b')`).String())
}
