// Package mperrors defines the error-kind taxonomy shared by every
// MemPack component: IOError, FormatError, CorruptionError, Validation,
// EmbedError, IndexError, InternalError.
package mperrors

import "fmt"

// Kind classifies an Error for callers that need to branch on failure
// category (e.g. the CLI deciding an exit code).
type Kind int

const (
	IOError Kind = iota
	FormatError
	CorruptionError
	Validation
	EmbedError
	IndexError
	InternalError
)

func (k Kind) String() string {
	switch k {
	case IOError:
		return "IOError"
	case FormatError:
		return "FormatError"
	case CorruptionError:
		return "CorruptionError"
	case Validation:
		return "Validation"
	case EmbedError:
		return "EmbedError"
	case IndexError:
		return "IndexError"
	case InternalError:
		return "InternalError"
	default:
		return "UnknownError"
	}
}

// Error is a classified error carrying the offending id/offset, per
// spec §7 ("each error carries a short classification tag and a
// human-readable message containing the offending id/offset").
type Error struct {
	Kind    Kind
	Message string
	// Offset is the offending byte offset, block id, or chunk id.
	// -1 means not applicable.
	Offset int64
	Err    error
}

func (e *Error) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s: %s (offset=%d)", e.Kind, e.Message, e.Offset)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no offending offset.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Offset: -1}
}

// Newf builds an *Error with a formatted message and no offending offset.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Offset: -1}
}

// At builds an *Error with an offending offset/id.
func At(kind Kind, offset int64, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Offset: offset}
}

// Atf builds an *Error with an offending offset/id and a formatted message.
func Atf(kind Kind, offset int64, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Offset: offset}
}

// Wrap attaches an underlying cause to a new classified error.
func Wrap(kind Kind, offset int64, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Offset: offset, Err: err}
}
