package shims

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/dop251/goja"
)

// Encodings understood by Buffer.
var bufferEncodings = map[string]string{
	"utf8": "utf8", "utf-8": "utf8",
	"base64": "base64", "base64url": "base64url",
	"hex":    "hex",
	"latin1": "latin1", "binary": "latin1", "ascii": "latin1",
	"ucs2": "utf16le", "ucs-2": "utf16le", "utf16le": "utf16le", "utf-16le": "utf16le",
}

// NormalizeEncoding returns the canonical encoding name, or "" when unknown.
func NormalizeEncoding(name string) string {
	if name == "" {
		return "utf8"
	}
	return bufferEncodings[strings.ToLower(name)]
}

// Encode converts a string into bytes.
func Encode(s, encoding string) ([]byte, error) {
	switch NormalizeEncoding(encoding) {
	case "utf8":
		return []byte(s), nil
	case "base64":
		return decodeBase64(s, base64.StdEncoding, base64.RawStdEncoding)
	case "base64url":
		return decodeBase64(s, base64.URLEncoding, base64.RawURLEncoding)
	case "hex":
		if len(s)%2 == 1 {
			s = s[:len(s)-1]
		}
		return hex.DecodeString(s)
	case "latin1":
		out := make([]byte, 0, len(s))
		for _, r := range s {
			out = append(out, byte(r))
		}
		return out, nil
	case "utf16le":
		units := utf16.Encode([]rune(s))
		out := make([]byte, 0, len(units)*2)
		for _, u := range units {
			out = append(out, byte(u), byte(u>>8))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown encoding: %s", encoding)
	}
}

// Decode converts bytes into a string.
func Decode(b []byte, encoding string) (string, error) {
	switch NormalizeEncoding(encoding) {
	case "utf8":
		if utf8.Valid(b) {
			return string(b), nil
		}
		return strings.ToValidUTF8(string(b), "�"), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(b), nil
	case "base64url":
		return base64.RawURLEncoding.EncodeToString(b), nil
	case "hex":
		return hex.EncodeToString(b), nil
	case "latin1":
		runes := make([]rune, len(b))
		for i, c := range b {
			runes[i] = rune(c)
		}
		return string(runes), nil
	case "utf16le":
		units := make([]uint16, 0, len(b)/2)
		for i := 0; i+1 < len(b); i += 2 {
			units = append(units, uint16(b[i])|uint16(b[i+1])<<8)
		}
		return string(utf16.Decode(units)), nil
	default:
		return "", fmt.Errorf("unknown encoding: %s", encoding)
	}
}

func decodeBase64(s string, padded, raw *base64.Encoding) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
	if strings.HasSuffix(s, "=") {
		return padded.DecodeString(s)
	}
	return raw.DecodeString(s)
}

// Bytes extracts a copy of the bytes of a Buffer, typed array view or
// ArrayBuffer.
func Bytes(vm *goja.Runtime, v goja.Value) ([]byte, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	if ab, ok := v.Export().(goja.ArrayBuffer); ok {
		return append([]byte(nil), ab.Bytes()...), true
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	bufValue := obj.Get("buffer")
	if bufValue == nil {
		return nil, false
	}
	ab, ok := bufValue.Export().(goja.ArrayBuffer)
	if !ok {
		return nil, false
	}
	offset := int(obj.Get("byteOffset").ToInteger())
	length := int(obj.Get("byteLength").ToInteger())
	data := ab.Bytes()
	if offset < 0 || length < 0 || offset+length > len(data) {
		return nil, false
	}
	return append([]byte(nil), data[offset:offset+length]...), true
}

// NewBuffer creates a Buffer holding b.
func NewBuffer(h Host, b []byte) goja.Value {
	vm := h.VM()
	mod, err := h.Require("buffer")
	if err != nil {
		panic(vm.NewGoError(err))
	}
	from, ok := goja.AssertFunction(mod.ToObject(vm).Get("Buffer").ToObject(vm).Get("from"))
	if !ok {
		panic(vm.NewTypeError("Buffer.from is not a function"))
	}
	buf, err := from(mod.ToObject(vm).Get("Buffer"), vm.ToValue(vm.NewArrayBuffer(b)))
	if err != nil {
		panic(err)
	}
	return buf
}

// ContentArgs converts a write payload into hostcall content and encoding.
// Buffers travel as base64, strings as utf8 unless another encoding is named.
func ContentArgs(vm *goja.Runtime, data goja.Value, encoding string) (string, string, error) {
	if b, ok := Bytes(vm, data); ok {
		return base64.StdEncoding.EncodeToString(b), "base64", nil
	}
	s := ""
	if data != nil && !goja.IsUndefined(data) && !goja.IsNull(data) {
		s = data.String()
	}
	switch NormalizeEncoding(encoding) {
	case "utf8":
		return s, "utf8", nil
	case "":
		return "", "", fmt.Errorf("unknown encoding: %s", encoding)
	default:
		b, err := Encode(s, encoding)
		if err != nil {
			return "", "", err
		}
		return base64.StdEncoding.EncodeToString(b), "base64", nil
	}
}

func newBuffer(h Host) (goja.Value, error) {
	vm := h.VM()
	binding := vm.NewObject()

	_ = binding.Set("encode", func(call goja.FunctionCall) goja.Value {
		b, err := Encode(call.Argument(0).String(), encodingArg(call.Argument(1)))
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		return vm.ToValue(vm.NewArrayBuffer(b))
	})
	_ = binding.Set("decode", func(call goja.FunctionCall) goja.Value {
		b, ok := Bytes(vm, call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("argument must be a Buffer or Uint8Array"))
		}
		s, err := Decode(b, encodingArg(call.Argument(1)))
		if err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		return vm.ToValue(s)
	})
	_ = binding.Set("isEncoding", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		return vm.ToValue(name != "" && NormalizeEncoding(name) != "")
	})

	return evalJS(h, "buffer", binding)
}

func encodingArg(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "utf8"
	}
	return v.String()
}
