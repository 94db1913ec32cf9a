package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Stage names the step of an engine operation that failed.
type Stage string

const (
	StageSession      Stage = "session"
	StageCanonicalize Stage = "canonicalize"
	StageEncode       Stage = "encode"
	StageEngine       Stage = "engine"
)

// OperationError records which operation failed, at which stage, for which call.
type OperationError struct {
	Operation string
	CallID    string
	Stage     Stage
	Err       error
}

// NewOperationError wraps err with operation metadata. A nil err stays nil.
func NewOperationError(operation, callID string, stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, CallID: callID, Stage: stage, Err: err}
}

// Error renders as "operation [stage] call id: cause", omitting empty parts.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Operation)
	if e.Stage != "" {
		fmt.Fprintf(&b, " [%s]", e.Stage)
	}
	if e.CallID != "" {
		fmt.Fprintf(&b, " call %s", e.CallID)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MarshalLogObject lets the error be logged with zap.Object.
func (e *OperationError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("operation", e.Operation)
	if e.CallID != "" {
		enc.AddString("call_id", e.CallID)
	}
	if e.Stage != "" {
		enc.AddString("stage", string(e.Stage))
	}
	if e.Err != nil {
		enc.AddString("cause", e.Err.Error())
	}
	return nil
}
