// Package fault defines the error kinds shared by the transfer pipeline,
// the resolver and the WebDAV handlers. Every failure that must become a
// specific protocol status carries a Kind; the HTTP boundary switches over
// it exhaustively and treats anything else as an internal error.
package fault

import (
	"errors"
	"fmt"
)

// Kind discriminates the failure classes that map to distinct responses.
type Kind int

// Failure kinds. KindUnknown is the zero value and is never constructed
// explicitly; KindOf returns it for errors that carry no kind.
const (
	KindUnknown Kind = iota
	KindNotFound
	KindUnsupported
	KindMalformed
	KindIntegrity
	KindAborted
	KindTransport
	KindUnauthorized
	KindConflict
	KindExists
	KindPrecondition
)

var kindNames = map[Kind]string{
	KindUnknown:      "unknown",
	KindNotFound:     "not found",
	KindUnsupported:  "unsupported",
	KindMalformed:    "malformed request",
	KindIntegrity:    "integrity failure",
	KindAborted:      "aborted",
	KindTransport:    "transport failure",
	KindUnauthorized: "unauthorized",
	KindConflict:     "conflict",
	KindExists:       "already exists",
	KindPrecondition: "precondition failed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a failure tagged with a Kind. Op names the operation that failed
// ("download", "locate", "mkcol"), Path the resource it concerned.
type Error struct {
	Kind    Kind
	Op      string
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}

	if e.Path != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
	} else if e.Op != "" {
		msg = e.Op + ": " + msg
	}

	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnknown when there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// New builds a tagged error with a message and no cause.
func New(kind Kind, op, path, message string) error {
	return &Error{Kind: kind, Op: op, Path: path, Message: message}
}

// Wrap tags cause with kind. A nil cause yields nil.
func Wrap(kind Kind, op, path string, cause error) error {
	if cause == nil {
		return nil
	}

	return &Error{Kind: kind, Op: op, Path: path, Err: cause}
}

// NotFound reports a resource absent from both the cache and the remote tree.
func NotFound(op, path string) error {
	return &Error{Kind: KindNotFound, Op: op, Path: path}
}

// Unsupported reports a request for a feature the gateway does not implement.
func Unsupported(op, message string) error {
	return &Error{Kind: KindUnsupported, Op: op, Message: message}
}

// Malformed reports a request that cannot be parsed or violates protocol rules.
func Malformed(op, message string) error {
	return &Error{Kind: KindMalformed, Op: op, Message: message}
}

// Aborted reports a transfer cancelled before completion. The message reads
// "<op> aborted", e.g. "download aborted".
func Aborted(op string) error {
	return &Error{Kind: KindAborted, Message: op + " aborted"}
}
