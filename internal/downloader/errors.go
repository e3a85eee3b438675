package downloader

import (
	"errors"
	"fmt"
)

// Kind classifies a download failure per §7's error taxonomy, so
// callers can branch on category (retry? surface to user? log and
// move on?) without parsing error strings.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindTransient
	KindCancelled
	KindIntegrityMismatch
	KindResourceExhaustion
	KindStorageFault
	KindChecksumMismatch
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindCancelled:
		return "cancelled"
	case KindIntegrityMismatch:
		return "integrity_mismatch"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	case KindStorageFault:
		return "storage_fault"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a taxonomy Kind. errors.Is/As
// work through Unwrap as usual; callers that need the category use
// errors.As(err, &downloadErr) and read Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether attempting the download again has any
// chance of succeeding. Validation, NotFound, Cancelled, and
// ChecksumMismatch are not — the input or the decision to stop was the
// problem, not transient conditions.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransient, KindIntegrityMismatch, KindStorageFault, KindResourceExhaustion:
		return true
	default:
		return false
	}
}

func newErr(kind Kind, err error) *Error { return &Error{Kind: kind, Err: err} }

func validationf(format string, args ...any) error {
	return newErr(KindValidation, fmt.Errorf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return newErr(KindNotFound, fmt.Errorf(format, args...))
}

func transientf(format string, args ...any) error {
	return newErr(KindTransient, fmt.Errorf(format, args...))
}

func cancelledf(format string, args ...any) error {
	return newErr(KindCancelled, fmt.Errorf(format, args...))
}

func integrityMismatchf(format string, args ...any) error {
	return newErr(KindIntegrityMismatch, fmt.Errorf(format, args...))
}

func resourceExhaustedf(format string, args ...any) error {
	return newErr(KindResourceExhaustion, fmt.Errorf(format, args...))
}

func storageFaultf(format string, args ...any) error {
	return newErr(KindStorageFault, fmt.Errorf(format, args...))
}

func checksumMismatchf(format string, args ...any) error {
	return newErr(KindChecksumMismatch, fmt.Errorf(format, args...))
}

// AsDownloadError extracts the *Error from err, if any.
func AsDownloadError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
