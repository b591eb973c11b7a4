package shims

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/dop251/goja"
)

// URLParts is the decomposition handed to the JS URL class.
type URLParts struct {
	Href     string
	Protocol string
	Username string
	Password string
	Hostname string
	Port     string
	Pathname string
	Search   string
	Hash     string
}

var specialSchemes = map[string]bool{
	"http": true, "https": true, "ws": true, "wss": true, "ftp": true, "file": true,
}

// ParseURL parses input, optionally relative to base, the way the WHATWG
// URL constructor does for the schemes extensions use.
func ParseURL(input, base string) (URLParts, error) {
	input = strings.TrimSpace(input)
	u, err := url.Parse(input)
	if err != nil {
		return URLParts{}, fmt.Errorf("invalid URL: %s", input)
	}
	if base != "" {
		b, err := url.Parse(strings.TrimSpace(base))
		if err != nil || b.Scheme == "" {
			return URLParts{}, fmt.Errorf("invalid base URL: %s", base)
		}
		u = b.ResolveReference(u)
	}
	if u.Scheme == "" {
		return URLParts{}, fmt.Errorf("invalid URL: %s", input)
	}

	scheme := strings.ToLower(u.Scheme)
	if specialSchemes[scheme] && scheme != "file" && u.Host == "" {
		return URLParts{}, fmt.Errorf("invalid URL: %s", input)
	}

	parts := URLParts{
		Protocol: scheme + ":",
		Hostname: strings.ToLower(u.Hostname()),
		Port:     u.Port(),
		Pathname: u.EscapedPath(),
	}
	if u.User != nil {
		parts.Username = u.User.Username()
		parts.Password, _ = u.User.Password()
	}
	if isDefaultPort(scheme, parts.Port) {
		parts.Port = ""
	}
	if u.Opaque != "" {
		parts.Pathname = u.Opaque
	} else if specialSchemes[scheme] {
		if parts.Pathname == "" {
			parts.Pathname = "/"
		} else {
			parts.Pathname = path.Clean(parts.Pathname)
			if strings.HasSuffix(u.EscapedPath(), "/") && parts.Pathname != "/" {
				parts.Pathname += "/"
			}
		}
	}
	if u.RawQuery != "" || u.ForceQuery {
		parts.Search = "?" + u.RawQuery
	}
	if u.Fragment != "" {
		parts.Hash = "#" + u.EscapedFragment()
	}
	if parts.Search == "?" {
		parts.Search = ""
	}
	parts.Href = FormatURL(parts)
	return parts, nil
}

// FormatURL serializes parts.
func FormatURL(p URLParts) string {
	var b strings.Builder
	b.WriteString(p.Protocol)
	scheme := strings.TrimSuffix(p.Protocol, ":")
	if p.Hostname != "" || specialSchemes[scheme] {
		b.WriteString("//")
		if p.Username != "" || p.Password != "" {
			b.WriteString(p.Username)
			if p.Password != "" {
				b.WriteString(":" + p.Password)
			}
			b.WriteString("@")
		}
		b.WriteString(p.Hostname)
		if p.Port != "" {
			b.WriteString(":" + p.Port)
		}
	}
	b.WriteString(p.Pathname)
	b.WriteString(p.Search)
	b.WriteString(p.Hash)
	return b.String()
}

func isDefaultPort(scheme, port string) bool {
	switch scheme {
	case "http", "ws":
		return port == "80"
	case "https", "wss":
		return port == "443"
	case "ftp":
		return port == "21"
	}
	return false
}

// FileURLToPath converts a file: URL into an absolute POSIX path.
func FileURLToPath(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "file" {
		return "", fmt.Errorf("the URL must be of scheme file")
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("file URL host must be \"localhost\" or empty")
	}
	return u.Path, nil
}

// PathToFileURL converts an absolute path into a file: URL.
func PathToFileURL(p string) string {
	u := url.URL{Scheme: "file", Path: p}
	return "file://" + u.EscapedPath()
}

func partsObject(vm *goja.Runtime, p URLParts) *goja.Object {
	obj := vm.NewObject()
	_ = obj.Set("href", p.Href)
	_ = obj.Set("protocol", p.Protocol)
	_ = obj.Set("username", p.Username)
	_ = obj.Set("password", p.Password)
	_ = obj.Set("hostname", p.Hostname)
	_ = obj.Set("port", p.Port)
	_ = obj.Set("pathname", p.Pathname)
	_ = obj.Set("search", p.Search)
	_ = obj.Set("hash", p.Hash)
	return obj
}

func newURL(h Host) (goja.Value, error) {
	vm := h.VM()
	binding := vm.NewObject()

	invalid := func(err error) *goja.Object {
		obj, _ := vm.New(vm.Get("TypeError"), vm.ToValue(err.Error()))
		if obj == nil {
			return vm.NewTypeError(err.Error())
		}
		_ = obj.Set("code", "ERR_INVALID_URL")
		return obj
	}

	_ = binding.Set("parse", func(call goja.FunctionCall) goja.Value {
		base := ""
		if b := call.Argument(1); !goja.IsUndefined(b) && !goja.IsNull(b) {
			base = b.String()
		}
		parts, err := ParseURL(call.Argument(0).String(), base)
		if err != nil {
			panic(invalid(err))
		}
		return partsObject(vm, parts)
	})
	_ = binding.Set("format", func(call goja.FunctionCall) goja.Value {
		obj := call.Argument(0)
		return vm.ToValue(FormatURL(URLParts{
			Protocol: OptionString(vm, obj, "protocol"),
			Username: OptionString(vm, obj, "username"),
			Password: OptionString(vm, obj, "password"),
			Hostname: OptionString(vm, obj, "hostname"),
			Port:     OptionString(vm, obj, "port"),
			Pathname: OptionString(vm, obj, "pathname"),
			Search:   OptionString(vm, obj, "search"),
			Hash:     OptionString(vm, obj, "hash"),
		}))
	})
	_ = binding.Set("escape", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.ReplaceAll(url.QueryEscape(call.Argument(0).String()), "%20", "+"))
	})
	_ = binding.Set("unescape", func(call goja.FunctionCall) goja.Value {
		s, err := url.QueryUnescape(call.Argument(0).String())
		if err != nil {
			return call.Argument(0)
		}
		return vm.ToValue(s)
	})
	_ = binding.Set("fileURLToPath", func(call goja.FunctionCall) goja.Value {
		raw := call.Argument(0)
		if obj, ok := raw.(*goja.Object); ok && !goja.IsUndefined(obj.Get("href")) {
			raw = obj.Get("href")
		}
		p, err := FileURLToPath(raw.String())
		if err != nil {
			panic(NewCodedError(vm, "ERR_INVALID_URL_SCHEME", err.Error()))
		}
		return vm.ToValue(p)
	})
	_ = binding.Set("pathToFileURL", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(PathToFileURL(PathResolve(h.Root(), call.Argument(0).String())))
	})

	return evalJS(h, "url", binding)
}
