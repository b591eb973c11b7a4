package shims

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	m, ok := Lookup("node:fs")
	require.True(t, ok)
	assert.Equal(t, "fs", m.Name)
	assert.Equal(t, LevelPartial, m.Level)

	m, ok = Lookup("path")
	require.True(t, ok)
	assert.Equal(t, LevelFull, m.Level)

	_, ok = Lookup("left-pad")
	assert.False(t, ok)
}

func TestBuiltins_SortedAndComplete(t *testing.T) {
	mods := Builtins()
	names := make([]string, len(mods))
	for i, m := range mods {
		names[i] = m.Name
	}
	assert.IsNonDecreasing(t, names)
	for _, want := range []string{"path", "url", "events", "buffer", "util", "fs", "fs/promises",
		"child_process", "http", "https", "os", "process", "crypto", "stream",
		"readline", "net", "tls", "zlib", "worker_threads"} {
		assert.Contains(t, names, want)
	}
}

func TestEveryBuiltinLoads(t *testing.T) {
	h := newTestHost(t)
	for _, m := range Builtins() {
		t.Run(m.Name, func(t *testing.T) {
			v, err := h.Require(m.Name)
			require.NoError(t, err)
			assert.NotNil(t, v)
		})
	}
}

func TestStubs_ThrowNotSupported(t *testing.T) {
	h := newTestHost(t)
	got := h.run(`
		var out = [];
		['net', 'tls', 'zlib', 'readline', 'worker_threads'].forEach(function (name) {
			var mod = require(name);
			Object.keys(mod).forEach(function (k) {
				if (typeof mod[k] !== 'function' || k.indexOf('is') === 0) return;
				try { mod[k](); out.push(name + '.' + k + ' returned'); }
				catch (e) { if (e.code !== 'ERR_NOT_SUPPORTED') out.push(name + '.' + k + ' ' + e.code); }
			});
		});
		out.join(',');
	`)
	assert.Empty(t, got.String())
	assert.Empty(t, h.calls, "stubs must not issue hostcalls")
	assert.True(t, h.run(`require('net').isIPv4('127.0.0.1') && require('net').isIPv6('::1')`).ToBoolean())
}

func TestEvents_EmitterBehaviour(t *testing.T) {
	h := newTestHost(t)
	got := h.run(`
		var EventEmitter = require('events');
		var e = new EventEmitter();
		var log = [];
		e.on('x', function (v) { log.push('on:' + v); })
		 .prependListener('x', function (v) { log.push('first:' + v); })
		 .once('x', function (v) { log.push('once:' + v); });
		e.emit('x', 1);
		e.emit('x', 2);
		var threw = false;
		try { e.emit('error', new Error('boom')); } catch (err) { threw = err.message === 'boom'; }
		log.push('count:' + e.listenerCount('x'), 'names:' + e.eventNames().join('|'), 'threw:' + threw,
			'max:' + e.getMaxListeners());
		log.join(',');
	`)
	assert.Equal(t, "first:1,on:1,once:1,first:2,on:2,count:2,names:x,threw:true,max:10", got.String())
}

func TestUtil_Format(t *testing.T) {
	h := newTestHost(t)
	tests := map[string]string{
		`util.format('%s=%d', 'a', 42)`:       "a=42",
		`util.format('%j', {a: 1})`:           `{"a":1}`,
		`util.format('100%%')`:                "100%",
		`util.format('x', 1, 'y')`:            "x 1 y",
		`util.inspect({a: [1, 'b']})`:         "{ a: [ 1, 'b' ] }",
		`util.inspect(Buffer.from('hi'))`:     "<Buffer 68 69>",
		`typeof util.promisify(function(cb){cb(null,1)})().then`: "function",
	}
	h.run(`var util = require('util');`)
	for src, want := range tests {
		t.Run(src, func(t *testing.T) {
			assert.Equal(t, want, h.run(src).String())
		})
	}
}

func TestConsole_UsesLogOp(t *testing.T) {
	h := newTestHost(t)
	h.run(`console.log('hello %s', 'world'); console.error('bad', {a: 1});`)
	require.Len(t, h.calls, 2)
	assert.Equal(t, []string{"log", "log"}, h.opsCalled())
	assert.JSONEq(t, `{"level":"info","message":"hello world"}`, string(h.calls[0].Args))
	assert.JSONEq(t, `{"level":"error","message":"bad { a: 1 }"}`, string(h.calls[1].Args))
}

func TestGlobals(t *testing.T) {
	h := newTestHost(t)
	assert.Equal(t, "aGk=", h.run(`btoa('hi')`).String())
	assert.Equal(t, "hi", h.run(`atob('aGk=')`).String())
	assert.Equal(t, "héllo", h.run(`new TextDecoder().decode(new TextEncoder().encode('héllo'))`).String())
	assert.True(t, h.run(`typeof Buffer === 'function' && typeof URL === 'function' && global === globalThis`).ToBoolean())
	assert.Equal(t, `{"a":[1]}`, h.run(`JSON.stringify(structuredClone({a: [1], f: function () {}}))`).String())
}
