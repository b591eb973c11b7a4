package shims

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		encoding string
		text     string
		bytes    []byte
	}{
		{"utf8", "héllo", []byte("héllo")},
		{"hex", "00ff10", []byte{0x00, 0xff, 0x10}},
		{"base64", "aGVsbG8=", []byte("hello")},
		{"base64url", "_-8", []byte{0xff, 0xef}},
		{"latin1", "ÿa", []byte{0xff, 'a'}},
		{"utf16le", "hi", []byte{'h', 0, 'i', 0}},
	}
	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			b, err := Encode(tt.text, tt.encoding)
			require.NoError(t, err)
			assert.Equal(t, tt.bytes, b)

			s, err := Decode(tt.bytes, tt.encoding)
			require.NoError(t, err)
			assert.Equal(t, tt.text, s)
		})
	}

	_, err := Encode("x", "klingon")
	assert.Error(t, err)
	assert.Equal(t, "utf8", NormalizeEncoding("UTF-8"))
	assert.Equal(t, "latin1", NormalizeEncoding("binary"))
}

func TestBase64AcceptsUnpaddedAndWhitespace(t *testing.T) {
	b, err := Encode("aGVs\nbG8", "base64")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)
}

func TestBufferClass(t *testing.T) {
	h := newTestHost(t)
	tests := map[string]string{
		`Buffer.from('hello').toString('hex')`:                           "68656c6c6f",
		`Buffer.from('68656c6c6f', 'hex').toString()`:                    "hello",
		`Buffer.from([104, 105]).toString()`:                             "hi",
		`Buffer.alloc(3, 'ab').toString()`:                               "aba",
		`Buffer.concat([Buffer.from('a'), Buffer.from('bc')]).toString()`: "abc",
		`String(Buffer.byteLength('héllo'))`:                             "6",
		`String(Buffer.compare(Buffer.from('a'), Buffer.from('b')))`:     "-1",
		`String(Buffer.from('hello').indexOf('ll'))`:                     "2",
		`Buffer.from('hello').slice(1, 3).toString()`:                    "el",
		`String(Buffer.isBuffer(Buffer.from('x')) && !Buffer.isBuffer(new Uint8Array(1)))`: "true",
		`JSON.stringify(Buffer.from('hi'))`:                              `{"type":"Buffer","data":[104,105]}`,
		`String(Buffer.from('abc').equals(Buffer.from('abc')))`:          "true",
		`(function () { var b = Buffer.alloc(4); b.write('hi', 1); return b.toString('hex'); })()`: "00686900",
		`(function () { var t = Buffer.alloc(3); Buffer.from('xyz').copy(t, 1, 0, 2); return t.toString('latin1'); })()`: "\x00xy",
		`String(Buffer.isEncoding('utf-8') && !Buffer.isEncoding('nope'))`: "true",
	}
	for src, want := range tests {
		t.Run(src, func(t *testing.T) {
			assert.Equal(t, want, h.run(src).String())
		})
	}
	assert.Empty(t, h.calls)
}

func TestBytesAndNewBuffer(t *testing.T) {
	h := newTestHost(t)
	buf := NewBuffer(h, []byte("payload"))
	got, ok := Bytes(h.vm, buf)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)

	sub := h.run(`Buffer.from('abcdef').subarray(2, 4)`)
	got, ok = Bytes(h.vm, sub)
	require.True(t, ok)
	assert.Equal(t, []byte("cd"), got)

	_, ok = Bytes(h.vm, h.vm.ToValue("string"))
	assert.False(t, ok)
}

func TestContentArgs(t *testing.T) {
	h := newTestHost(t)

	content, enc, err := ContentArgs(h.vm, h.vm.ToValue("plain"), "")
	require.NoError(t, err)
	assert.Equal(t, "plain", content)
	assert.Equal(t, "utf8", enc)

	content, enc, err = ContentArgs(h.vm, h.run(`Buffer.from([0, 255])`), "")
	require.NoError(t, err)
	assert.Equal(t, "AP8=", content)
	assert.Equal(t, "base64", enc)

	content, enc, err = ContentArgs(h.vm, h.vm.ToValue("00ff"), "hex")
	require.NoError(t, err)
	assert.Equal(t, "AP8=", content)
	assert.Equal(t, "base64", enc)

	_, _, err = ContentArgs(h.vm, h.vm.ToValue("x"), "bogus")
	assert.Error(t, err)
}
