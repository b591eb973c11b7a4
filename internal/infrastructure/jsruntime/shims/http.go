package shims

import (
	"encoding/base64"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
)

type httpArgs struct {
	URL          string            `json:"url"`
	Method       string            `json:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         string            `json:"body,omitempty"`
	BodyEncoding string            `json:"body_encoding,omitempty"`
}

var httpMethods = []string{
	"ACL", "BIND", "CHECKOUT", "CONNECT", "COPY", "DELETE", "GET", "HEAD", "LINK", "LOCK",
	"M-SEARCH", "MERGE", "MKACTIVITY", "MKCALENDAR", "MKCOL", "MOVE", "NOTIFY", "OPTIONS",
	"PATCH", "POST", "PROPFIND", "PROPPATCH", "PURGE", "PUT", "REBIND", "REPORT", "SEARCH",
	"SOURCE", "SUBSCRIBE", "TRACE", "UNBIND", "UNLINK", "UNLOCK", "UNSUBSCRIBE",
}

// newHTTP builds http or https. protocol is the default for option objects
// without one.
func newHTTP(protocol string) func(Host) (goja.Value, error) {
	return func(h Host) (goja.Value, error) {
		vm := h.VM()
		binding := vm.NewObject()
		_ = binding.Set("protocol", protocol)
		_ = binding.Set("methods", httpMethods)
		_ = binding.Set("statusCodes", statusCodes())

		// request(args, body, cb): cb receives (err) or (null, response).
		_ = binding.Set("request", func(call goja.FunctionCall) goja.Value {
			opts := call.Argument(0)
			args := httpArgs{
				URL:    OptionString(vm, opts, "url"),
				Method: strings.ToUpper(OptionString(vm, opts, "method")),
			}
			if headers := opts.ToObject(vm).Get("headers"); IsObject(headers) {
				obj := headers.ToObject(vm)
				args.Headers = make(map[string]string)
				for _, k := range obj.Keys() {
					args.Headers[k] = obj.Get(k).String()
				}
			}
			if body, ok := Bytes(vm, call.Argument(1)); ok && len(body) > 0 {
				args.Body = base64.StdEncoding.EncodeToString(body)
				args.BodyEncoding = "base64"
			}
			cb, _ := goja.AssertFunction(call.Argument(2))

			h.CallAsync(hostcall.OpHTTPRequest, args, func(out hostcall.Outcome) {
				if cb == nil {
					return
				}
				if !out.OK {
					_, _ = cb(goja.Undefined(), NewHostcallError(vm, out.Error))
					return
				}
				_, _ = cb(goja.Undefined(), goja.Null(), httpResponse(h, FromJSON(vm, out.Value)))
			})
			return goja.Undefined()
		})

		return evalJS(h, "http", binding)
	}
}

// httpResponse converts the http.request value, decoding the body into a
// Buffer.
func httpResponse(h Host, v goja.Value) goja.Value {
	vm := h.VM()
	src := v.ToObject(vm)
	body := []byte(OptionString(vm, v, "body"))
	if OptionString(vm, v, "body_encoding") == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(string(body))
		if err == nil {
			body = decoded
		}
	}

	headers := vm.NewObject()
	if raw := src.Get("headers"); IsObject(raw) {
		obj := raw.ToObject(vm)
		keys := obj.Keys()
		sort.Strings(keys)
		for _, k := range keys {
			_ = headers.Set(strings.ToLower(k), obj.Get(k))
		}
	}

	res := vm.NewObject()
	_ = res.Set("statusCode", src.Get("status"))
	_ = res.Set("statusMessage", src.Get("status_text"))
	_ = res.Set("headers", headers)
	_ = res.Set("truncated", OptionBool(vm, v, "truncated"))
	_ = res.Set("body", NewBuffer(h, body))
	return res
}

func statusCodes() map[string]string {
	out := make(map[string]string)
	for code := 100; code < 600; code++ {
		if text := http.StatusText(code); text != "" {
			out[strconv.Itoa(code)] = text
		}
	}
	return out
}
