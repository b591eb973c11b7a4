package shims

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
}

func TestChildProcess_Sync(t *testing.T) {
	requireShell(t)
	h := newTestHost(t)
	got := h.run(`
		var cp = require('child_process');
		var out = [cp.execSync('echo hi', { encoding: 'utf8' }).trim()];
		out.push(Buffer.isBuffer(cp.execSync('echo raw')));
		try { cp.execSync('echo oops >&2; exit 3'); } catch (e) { out.push(e.status, e.stderr.toString().trim()); }
		var r = cp.spawnSync('sh', ['-c', 'echo out; exit 2'], { encoding: 'utf8' });
		out.push(r.status, r.stdout.trim());
		out.push(cp.execFileSync('sh', ['-c', 'printf file'], { encoding: 'utf8' }));
		out.join(',');
	`)
	assert.Equal(t, "hi,true,3,oops,2,out,file", got.String())
	for _, op := range h.opsCalled() {
		assert.Equal(t, "exec", op)
	}
}

func TestChildProcess_Async(t *testing.T) {
	requireShell(t)
	h := newTestHost(t)
	h.run(`
		var cp = require('child_process');
		var log = [];
		var child = cp.exec('echo async', function (err, stdout) { log.push('cb:' + err + ':' + stdout.trim()); });
		child.on('exit', function (code) { log.push('exit:' + code); });
		cp.execFile('sh', ['-c', 'exit 4'], function (err) { log.push('fail:' + err.code); });
	`)
	h.drain()
	assert.Equal(t, "exit:0,cb:null:async,fail:4", h.run(`log.join(',')`).String())
}

func TestChildProcess_Denied(t *testing.T) {
	h := newTestHost(t)
	h.auth.deny[capabilities.Exec] = true
	got := h.run(`
		var cp = require('child_process'), out = [];
		try { cp.execSync('echo hi'); } catch (e) { out.push(e.name + ':' + e.code); }
		var r = cp.spawnSync('echo', ['hi']);
		out.push(r.status + ':' + r.error.code);
		out.join(',');
	`)
	assert.Equal(t, "HostcallError:denied,null:denied", got.String())

	_, err := h.vm.RunString(`require('child_process').spawn('ls')`)
	assert.ErrorContains(t, err, "not supported")
}
