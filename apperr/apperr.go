// Package apperr defines the closed set of error kinds the service reports.
//
// Packages wrap lower-level failures with fmt.Errorf as usual and attach a
// Kind at component boundaries, so HTTP handlers and the CLI can branch on
// the kind instead of the message.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Other Kind = iota
	// Invalid is a malformed request that is not an image payload problem.
	Invalid
	// Decode is a transport payload that is not valid base64 or not a
	// supported raster image.
	Decode
	// Pipeline is a resize, tensor or inference failure.
	Pipeline
	// ModelLoad is fatal and only happens at startup.
	ModelLoad
	// DialogueRequest is a failure of the upstream completion API.
	DialogueRequest
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "invalid request"
	case Decode:
		return "decode error"
	case Pipeline:
		return "pipeline error"
	case ModelLoad:
		return "model load error"
	case DialogueRequest:
		return "dialogue request error"
	default:
		return "error"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with kind and op. An err that already carries a kind other
// than Other keeps it, so a Decode failure is not relabeled as Pipeline by an
// outer stage.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != Other {
		kind = ae.Kind
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is E with a formatted message as the wrapped error.
func Errorf(kind Kind, op, format string, args ...any) error {
	return E(kind, op, fmt.Errorf(format, args...))
}

// KindOf reports the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Other
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
