package hostcall

import (
	"encoding/json"
	"time"
)

// Request is a single hostcall issued by guest code.
type Request struct {
	ExtensionID string          `json:"extension_id"`
	CallID      string          `json:"call_id"`
	Op          string          `json:"op"`
	Args        json.RawMessage `json:"args,omitempty"`
	// TimeoutMS is an optional guest hint; it can only shorten the deadline.
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
}

// TimeoutHint returns the guest's hint as a duration, or zero when absent.
func (r Request) TimeoutHint() time.Duration {
	if r.TimeoutMS <= 0 {
		return 0
	}
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// Outcome is the single result of a hostcall: a value or an error, never both.
type Outcome struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Success wraps a value into a successful outcome. A value that cannot be
// encoded is a host bug and yields an internal failure instead.
func Success(v any) Outcome {
	if raw, ok := v.(json.RawMessage); ok {
		return Outcome{OK: true, Value: raw}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Failure(Errorf(CodeInternal, "encode result: %v", err))
	}
	return Outcome{OK: true, Value: raw}
}

// Failure wraps an error into a failed outcome.
func Failure(err *Error) Outcome {
	if err == nil {
		err = &Error{Code: CodeInternal, Message: "unknown failure"}
	}
	return Outcome{Error: err}
}

// Code returns the error code, or "ok" for a success. It is used as the
// outcome label in audit records and metrics.
func (o Outcome) Code() string {
	if o.OK {
		return "ok"
	}
	if o.Error == nil {
		return string(CodeInternal)
	}
	return string(o.Error.Code)
}

// Decode unmarshals the success value into v.
func (o Outcome) Decode(v any) error {
	if !o.OK {
		return o.Error
	}
	if len(o.Value) == 0 {
		return nil
	}
	return json.Unmarshal(o.Value, v)
}
