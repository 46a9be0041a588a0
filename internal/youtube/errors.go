package youtube

import (
	"errors"
	"fmt"
)

// Kind classifies an upstream fetch failure.
type Kind int

// Fetch error classifications.
const (
	KindTransient Kind = iota
	KindQuotaExceeded
	KindInvalidCredential
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindNotFound:
		return "not_found"
	default:
		return "transient"
	}
}

// Error is a classified upstream API failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("youtube: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("youtube: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or KindTransient when err
// is not a youtube error.
func KindOf(err error) Kind {
	var ye *Error
	if errors.As(err, &ye) {
		return ye.Kind
	}
	return KindTransient
}
