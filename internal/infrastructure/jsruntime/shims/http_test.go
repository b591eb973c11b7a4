package shims

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

func TestHTTP_RequestRoundTrip(t *testing.T) {
	h := newTestHost(t)
	var sent httpArgs
	h.override[hostcall.OpHTTPRequest] = func(raw json.RawMessage) hostcall.Outcome {
		require.NoError(t, json.Unmarshal(raw, &sent))
		return hostcall.Success(map[string]any{
			"status":        201,
			"status_text":   "Created",
			"headers":       map[string]string{"Content-Type": "application/json"},
			"body":          `{"ok":true}`,
			"body_encoding": "utf8",
		})
	}

	h.run(`
		var https = require('https');
		var log = [];
		var req = https.request({ hostname: 'api.example.com', path: '/v1/items', method: 'post',
			headers: { 'X-Trace': 'abc' } }, function (res) {
			log.push('status:' + res.statusCode, 'type:' + res.headers['content-type']);
			var chunks = [];
			res.on('data', function (c) { chunks.push(c); });
			res.on('end', function () { log.push('body:' + Buffer.concat(chunks).toString()); });
		});
		req.setHeader('Content-Type', 'application/json');
		req.write('{"name":');
		req.end('"x"}');
	`)
	h.drain()

	assert.Equal(t, "status:201,type:application/json,body:{\"ok\":true}", h.run(`log.join(',')`).String())
	assert.Equal(t, "https://api.example.com/v1/items", sent.URL)
	assert.Equal(t, "POST", sent.Method)
	assert.Equal(t, map[string]string{"x-trace": "abc", "content-type": "application/json"}, sent.Headers)
	assert.Equal(t, "base64", sent.BodyEncoding)
	assert.Equal(t, "eyJuYW1lIjoieCJ9", sent.Body)
}

func TestHTTP_GetWithURLAndError(t *testing.T) {
	h := newTestHost(t)
	h.override[hostcall.OpHTTPRequest] = func(json.RawMessage) hostcall.Outcome {
		return hostcall.Failure(hostcall.Errorf(hostcall.CodeDenied, "capability http denied"))
	}
	h.run(`
		var log = [];
		var req = require('http').get('http://example.com/x', function () { log.push('response'); });
		req.on('error', function (e) { log.push(e.name + ':' + e.code); });
	`)
	h.drain()
	assert.Equal(t, "HostcallError:denied", h.run(`log.join(',')`).String())
}

func TestHTTP_StaticSurface(t *testing.T) {
	h := newTestHost(t)
	h.run(`var http = require('http');`)
	assert.Equal(t, "Not Found", h.run(`http.STATUS_CODES[404]`).String())
	assert.True(t, h.run(`http.METHODS.indexOf('PATCH') !== -1`).ToBoolean())
	_, err := h.vm.RunString(`http.createServer()`)
	assert.ErrorContains(t, err, "not supported")
	assert.Empty(t, h.calls)
}
