package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Error kinds
// ---------------------------------------------------------------------------

// ErrorKind categorizes a runtime failure.
type ErrorKind uint8

const (
	KindDoesNotUnderstand ErrorKind = iota + 1
	KindZeroDivision
	KindArgumentError
	KindIndexError
	KindTypeMismatch
	KindNameError
	KindPrimitiveFailure
	KindOutOfMemory
	KindCorruptedInstruction
)

var kindNames = map[ErrorKind]string{
	KindDoesNotUnderstand:    "DoesNotUnderstand",
	KindZeroDivision:         "ZeroDivision",
	KindArgumentError:        "ArgumentError",
	KindIndexError:           "IndexError",
	KindTypeMismatch:         "TypeMismatch",
	KindNameError:            "NameError",
	KindPrimitiveFailure:     "PrimitiveFailure",
	KindOutOfMemory:          "OutOfMemory",
	KindCorruptedInstruction: "CorruptedInstruction",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrDoesNotUnderstand    = &Error{Kind: KindDoesNotUnderstand}
	ErrZeroDivision         = &Error{Kind: KindZeroDivision}
	ErrArgument             = &Error{Kind: KindArgumentError}
	ErrIndex                = &Error{Kind: KindIndexError}
	ErrTypeMismatch         = &Error{Kind: KindTypeMismatch}
	ErrName                 = &Error{Kind: KindNameError}
	ErrOutOfMemory          = &Error{Kind: KindOutOfMemory}
	ErrCorruptedInstruction = &Error{Kind: KindCorruptedInstruction}
)

// ---------------------------------------------------------------------------
// Error
// ---------------------------------------------------------------------------

// TraceEntry is one frame of the context chain captured when an error
// originated. The innermost frame comes first.
type TraceEntry struct {
	MethodHash uint32
	Selector   string
	IP         int
	Block      bool
}

func (e TraceEntry) String() string {
	name := e.Selector
	if name == "" {
		name = "doIt"
	}
	if e.Block {
		name = "[] in " + name
	}
	return fmt.Sprintf("%s (method #%08x, ip %d)", name, e.MethodHash, e.IP)
}

// Error is the single runtime error type.
type Error struct {
	Kind    ErrorKind
	Message string

	// Populated depending on Kind.
	ClassName string // DoesNotUnderstand
	Selector  string // DoesNotUnderstand
	Name      string // NameError
	IP        int    // CorruptedInstruction
	Opcode    int    // CorruptedInstruction, -1 when ip is out of bounds

	Trace []TraceEntry
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// DoesNotUnderstandError reports a failed method lookup.
func DoesNotUnderstandError(className, selector string) *Error {
	return &Error{
		Kind:      KindDoesNotUnderstand,
		Message:   fmt.Sprintf("%s does not understand #%s", className, selector),
		ClassName: className,
		Selector:  selector,
	}
}

// NameErrorFor reports an unbound identifier.
func NameErrorFor(name string) *Error {
	return &Error{
		Kind:    KindNameError,
		Message: "Undefined variable: " + name,
		Name:    name,
	}
}

func corrupted(ip, opcode int, format string, args ...any) *Error {
	return &Error{
		Kind:    KindCorruptedInstruction,
		Message: fmt.Sprintf(format, args...),
		IP:      ip,
		Opcode:  opcode,
	}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

// Is matches on kind so that sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// FormatTrace renders the captured context chain, one frame per line.
func (e *Error) FormatTrace() string {
	var sb strings.Builder
	for _, entry := range e.Trace {
		sb.WriteString("  ")
		sb.WriteString(entry.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// KindOf returns the kind of err, or zero when err is not a runtime error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var pf *PrimitiveFailure
	if errors.As(err, &pf) {
		return KindPrimitiveFailure
	}
	return 0
}

// ---------------------------------------------------------------------------
// Primitive failure
// ---------------------------------------------------------------------------

// PrimitiveFailure is returned by a primitive that declines to handle its
// arguments. The send site runs the method's bytecode body instead. When a
// method has no body the failure surfaces as Cause.
type PrimitiveFailure struct {
	Cause *Error
}

func (f *PrimitiveFailure) Error() string {
	return "primitive failed: " + f.Cause.Error()
}

func (f *PrimitiveFailure) Unwrap() error {
	return f.Cause
}

// Fail builds a primitive failure whose fallback-less form is kind.
func Fail(kind ErrorKind, format string, args ...any) error {
	return &PrimitiveFailure{Cause: newError(kind, format, args...)}
}

// failWith wraps an existing runtime error as a primitive failure.
func failWith(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return &PrimitiveFailure{Cause: e}
	}
	return err
}
