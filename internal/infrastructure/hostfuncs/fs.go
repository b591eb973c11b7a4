package hostfuncs

import (
	"context"
	"encoding/base64"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/reglet-dev/extsandbox/internal/application/ports"
	"github.com/reglet-dev/extsandbox/internal/domain/capabilities"
	"github.com/reglet-dev/extsandbox/internal/domain/hostcall"
	"github.com/reglet-dev/extsandbox/internal/infrastructure/vfs"
)

// Content encodings accepted by fs and http ops.
const (
	EncodingUTF8   = "utf8"
	EncodingBase64 = "base64"
)

// PathArgs addresses one path.
type PathArgs struct {
	Path      string `json:"path" validate:"required"`
	Recursive bool   `json:"recursive,omitempty"`
	Encoding  string `json:"encoding,omitempty" validate:"omitempty,oneof=utf8 utf-8 base64 buffer"`
}

// WriteArgs writes content to a path.
type WriteArgs struct {
	Path     string `json:"path" validate:"required"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty" validate:"omitempty,oneof=utf8 utf-8 base64 buffer"`
}

// FileContent is the value of fs.read.
type FileContent struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Size     int    `json:"size"`
}

// FSOperations returns the filesystem ops.
func FSOperations(timeout time.Duration) []Operation {
	read := Requires[PathArgs](capabilities.Read)
	readWrite := Requires[WriteArgs](capabilities.Write)
	write := Requires[PathArgs](capabilities.Write)

	return []Operation{
		NewOperation(hostcall.OpFSRead, timeout, read, fsRead),
		NewOperation(hostcall.OpFSStat, timeout, read, fsStat),
		NewOperation(hostcall.OpFSList, timeout, read, fsList),
		NewOperation(hostcall.OpFSExists, timeout, read, fsExists),
		NewOperation(hostcall.OpFSWrite, timeout, readWrite, fsWrite),
		NewOperation(hostcall.OpFSAppend, timeout, readWrite, fsAppend),
		NewOperation(hostcall.OpFSMkdir, timeout, write, fsMkdir),
		NewOperation(hostcall.OpFSRemove, timeout, write, fsRemove),
	}
}

func fsRead(_ context.Context, scope *ports.CallScope, args PathArgs) (any, error) {
	fsys, err := scopeFS(scope)
	if err != nil {
		return nil, err
	}
	data, err := fsys.Read(args.Path)
	if err != nil {
		return nil, fsError(err)
	}
	return encodeContent(data, args.Encoding), nil
}

func fsStat(_ context.Context, scope *ports.CallScope, args PathArgs) (any, error) {
	fsys, err := scopeFS(scope)
	if err != nil {
		return nil, err
	}
	info, err := fsys.Stat(args.Path)
	if err != nil {
		return nil, fsError(err)
	}
	return info, nil
}

func fsList(_ context.Context, scope *ports.CallScope, args PathArgs) (any, error) {
	fsys, err := scopeFS(scope)
	if err != nil {
		return nil, err
	}
	entries, err := fsys.List(args.Path)
	if err != nil {
		return nil, fsError(err)
	}
	if entries == nil {
		entries = []ports.FileInfo{}
	}
	return entries, nil
}

func fsExists(_ context.Context, scope *ports.CallScope, args PathArgs) (any, error) {
	fsys, err := scopeFS(scope)
	if err != nil {
		return nil, err
	}
	_, err = fsys.Stat(args.Path)
	switch {
	case err == nil:
		return map[string]bool{"exists": true}, nil
	case errors.Is(err, vfs.ErrNotFound), errors.Is(err, vfs.ErrNotDir):
		return map[string]bool{"exists": false}, nil
	default:
		return nil, fsError(err)
	}
}

func fsWrite(_ context.Context, scope *ports.CallScope, args WriteArgs) (any, error) {
	fsys, err := scopeFS(scope)
	if err != nil {
		return nil, err
	}
	data, err := decodeContent(args.Content, args.Encoding)
	if err != nil {
		return nil, err
	}
	if err := fsys.Write(args.Path, data); err != nil {
		return nil, fsError(err)
	}
	return map[string]int{"bytes": len(data)}, nil
}

func fsAppend(ctx context.Context, scope *ports.CallScope, args WriteArgs) (any, error) {
	fsys, err := scopeFS(scope)
	if err != nil {
		return nil, err
	}
	data, err := decodeContent(args.Content, args.Encoding)
	if err != nil {
		return nil, err
	}
	// Appending to a host file copies its content into the sandbox.
	if info, err := fsys.Stat(args.Path); err == nil && info.Source == vfs.SourceHost {
		if err := requireCapability(ctx, capabilities.Read); err != nil {
			return nil, err
		}
	}
	if err := fsys.Append(args.Path, data); err != nil {
		return nil, fsError(err)
	}
	return map[string]int{"bytes": len(data)}, nil
}

func fsMkdir(_ context.Context, scope *ports.CallScope, args PathArgs) (any, error) {
	fsys, err := scopeFS(scope)
	if err != nil {
		return nil, err
	}
	if err := fsys.Mkdir(args.Path, args.Recursive); err != nil {
		return nil, fsError(err)
	}
	return nil, nil
}

func fsRemove(_ context.Context, scope *ports.CallScope, args PathArgs) (any, error) {
	fsys, err := scopeFS(scope)
	if err != nil {
		return nil, err
	}
	if err := fsys.Remove(args.Path, args.Recursive); err != nil {
		return nil, fsError(err)
	}
	return nil, nil
}

func scopeFS(scope *ports.CallScope) (ports.FileSystem, error) {
	if scope.FS == nil {
		return nil, hostcall.Errorf(hostcall.CodeInternal, "no filesystem attached to extension %s", scope.ExtensionID)
	}
	return scope.FS, nil
}

// fsError maps VFS errors onto the taxonomy. Containment refusals are
// denials, malformed paths are invalid requests, the rest is io.
func fsError(err error) error {
	switch {
	case errors.Is(err, vfs.ErrOutsideRoot), errors.Is(err, vfs.ErrReadOnly), errors.Is(err, vfs.ErrIrregular):
		return &hostcall.Error{Code: hostcall.CodeDenied, Message: err.Error()}
	case errors.Is(err, vfs.ErrInvalidPath), errors.Is(err, vfs.ErrPathTooLong):
		return &hostcall.Error{Code: hostcall.CodeInvalidRequest, Message: err.Error()}
	default:
		return &hostcall.Error{Code: hostcall.CodeIO, Message: err.Error()}
	}
}

func encodeContent(data []byte, encoding string) FileContent {
	if encoding == EncodingBase64 || encoding == "buffer" || (encoding == "" && !utf8.Valid(data)) {
		return FileContent{Content: base64.StdEncoding.EncodeToString(data), Encoding: EncodingBase64, Size: len(data)}
	}
	return FileContent{Content: string(data), Encoding: EncodingUTF8, Size: len(data)}
}

func decodeContent(content, encoding string) ([]byte, error) {
	if encoding == EncodingBase64 || encoding == "buffer" {
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, hostcall.Errorf(hostcall.CodeInvalidRequest, "content is not valid base64: %v", err)
		}
		return data, nil
	}
	return []byte(content), nil
}
