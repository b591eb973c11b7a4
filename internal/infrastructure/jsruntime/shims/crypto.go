package shims

import (
	"crypto/hmac"
	"crypto/md5"  //nolint:gosec // G501: md5 is offered for checksums, not security
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // G505: sha1 is offered for checksums, not security
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"hash"
	"sort"
	"strings"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

const maxRandomBytes = 1 << 16

var hashes = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha224": sha256.New224,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
	"blake3": func() hash.Hash { return blake3.New() },
}

// HashNames lists the digests createHash accepts.
func HashNames() []string {
	names := make([]string, 0, len(hashes))
	for name := range hashes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newCrypto(h Host) (goja.Value, error) {
	vm := h.VM()
	mod := vm.NewObject()

	_ = mod.Set("randomUUID", func() string {
		return uuid.NewString()
	})
	_ = mod.Set("randomBytes", func(call goja.FunctionCall) goja.Value {
		n := call.Argument(0).ToInteger()
		if n < 0 || n > maxRandomBytes {
			panic(NewCodedError(vm, "ERR_OUT_OF_RANGE", "The value of \"size\" is out of range."))
		}
		b := make([]byte, n)
		if _, err := rand.Read(b); err != nil {
			panic(vm.NewGoError(err))
		}
		buf := NewBuffer(h, b)
		if cb, ok := goja.AssertFunction(call.Argument(1)); ok {
			_, _ = cb(goja.Undefined(), goja.Null(), buf)
			return goja.Undefined()
		}
		return buf
	})
	_ = mod.Set("randomInt", func(call goja.FunctionCall) goja.Value {
		lo, hi := int64(0), call.Argument(0).ToInteger()
		if len(call.Arguments) > 1 {
			if _, ok := goja.AssertFunction(call.Argument(1)); !ok {
				lo, hi = hi, call.Argument(1).ToInteger()
			}
		}
		if hi <= lo {
			panic(NewCodedError(vm, "ERR_OUT_OF_RANGE", "The value of \"max\" is out of range."))
		}
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			panic(vm.NewGoError(err))
		}
		var n uint64
		for _, c := range b {
			n = n<<8 | uint64(c)
		}
		return vm.ToValue(lo + int64(n%uint64(hi-lo)))
	})
	_ = mod.Set("getRandomValues", func(call goja.FunctionCall) goja.Value {
		return fillRandom(vm, call.Argument(0))
	})
	_ = mod.Set("getHashes", func() goja.Value {
		names := HashNames()
		out := make([]any, len(names))
		for i, n := range names {
			out[i] = n
		}
		return vm.NewArray(out...)
	})
	_ = mod.Set("createHash", func(call goja.FunctionCall) goja.Value {
		alg := strings.ToLower(call.Argument(0).String())
		ctor, ok := hashes[alg]
		if !ok {
			panic(NewCodedError(vm, "ERR_OSSL_EVP_UNSUPPORTED", "Digest method not supported: "+alg))
		}
		return newHashObject(h, ctor())
	})
	_ = mod.Set("createHmac", func(call goja.FunctionCall) goja.Value {
		alg := strings.ToLower(call.Argument(0).String())
		ctor, ok := hashes[alg]
		if !ok {
			panic(NewCodedError(vm, "ERR_OSSL_EVP_UNSUPPORTED", "Digest method not supported: "+alg))
		}
		key, ok := Bytes(vm, call.Argument(1))
		if !ok {
			key = []byte(call.Argument(1).String())
		}
		return newHashObject(h, hmac.New(ctor, key))
	})
	_ = mod.Set("timingSafeEqual", func(call goja.FunctionCall) goja.Value {
		a, okA := Bytes(vm, call.Argument(0))
		b, okB := Bytes(vm, call.Argument(1))
		if !okA || !okB {
			panic(NewCodedError(vm, "ERR_INVALID_ARG_TYPE", "The arguments must be Buffers or typed arrays"))
		}
		if len(a) != len(b) {
			panic(NewCodedError(vm, "ERR_CRYPTO_TIMING_SAFE_EQUAL_LENGTH", "Input buffers must have the same byte length"))
		}
		return vm.ToValue(subtle.ConstantTimeCompare(a, b) == 1)
	})

	webcrypto := vm.NewObject()
	_ = webcrypto.Set("getRandomValues", mod.Get("getRandomValues"))
	_ = webcrypto.Set("randomUUID", mod.Get("randomUUID"))
	_ = mod.Set("webcrypto", webcrypto)
	return mod, nil
}

// newHashObject wraps a running digest. After digest() the object is spent.
func newHashObject(h Host, sum hash.Hash) *goja.Object {
	vm := h.VM()
	obj := vm.NewObject()
	done := false

	_ = obj.Set("update", func(call goja.FunctionCall) goja.Value {
		if done {
			panic(NewCodedError(vm, "ERR_CRYPTO_HASH_FINALIZED", "Digest already called"))
		}
		data, ok := Bytes(vm, call.Argument(0))
		if !ok {
			var err error
			data, err = Encode(call.Argument(0).String(), encodingArg(call.Argument(1)))
			if err != nil {
				panic(vm.NewTypeError(err.Error()))
			}
		}
		_, _ = sum.Write(data)
		return obj
	})
	_ = obj.Set("digest", func(call goja.FunctionCall) goja.Value {
		if done {
			panic(NewCodedError(vm, "ERR_CRYPTO_HASH_FINALIZED", "Digest already called"))
		}
		done = true
		out := sum.Sum(nil)
		if enc := call.Argument(0); !goja.IsUndefined(enc) && enc.String() != "buffer" {
			s, err := Decode(out, enc.String())
			if err != nil {
				panic(vm.NewTypeError(err.Error()))
			}
			return vm.ToValue(s)
		}
		return NewBuffer(h, out)
	})
	return obj
}

// fillRandom fills a typed array in place and returns it.
func fillRandom(vm *goja.Runtime, v goja.Value) goja.Value {
	obj, ok := v.(*goja.Object)
	if !ok {
		panic(NewCodedError(vm, "ERR_INVALID_ARG_TYPE", "The \"typedArray\" argument must be an integer-type TypedArray"))
	}
	ab, ok := obj.Get("buffer").Export().(goja.ArrayBuffer)
	if !ok {
		panic(NewCodedError(vm, "ERR_INVALID_ARG_TYPE", "The \"typedArray\" argument must be an integer-type TypedArray"))
	}
	offset := int(obj.Get("byteOffset").ToInteger())
	length := int(obj.Get("byteLength").ToInteger())
	if length > maxRandomBytes {
		panic(NewCodedError(vm, "ERR_OUT_OF_RANGE", "The ArrayBufferView's byte length exceeds the number of bytes of entropy available"))
	}
	if _, err := rand.Read(ab.Bytes()[offset : offset+length]); err != nil {
		panic(vm.NewGoError(err))
	}
	return v
}
