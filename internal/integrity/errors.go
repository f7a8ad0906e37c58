package integrity

import "errors"

var (
	ErrKeyNotFound           = errors.New("data request not found")
	ErrTampered              = errors.New("data has been tampered with")
	ErrTamperedUnrecoverable = errors.New("data has been tampered with and is not recoverable")
	ErrPersistenceFailure    = errors.New("persistence failure")
	ErrInvalidKey            = errors.New("invalid key")
	ErrInvalidValue          = errors.New("invalid value")
	ErrAlgorithmMismatch     = errors.New("hash algorithm mismatch")
)

// Kind classifies the outcome of a Get.
type Kind string

const (
	KindNone                  Kind = ""
	KindKeyNotFound           Kind = "key_not_found"
	KindTampered              Kind = "tampered"
	KindTamperedUnrecoverable Kind = "tampered_unrecoverable"
)

// Err returns the sentinel error for k, or nil for KindNone.
func (k Kind) Err() error {
	switch k {
	case KindKeyNotFound:
		return ErrKeyNotFound
	case KindTampered:
		return ErrTampered
	case KindTamperedUnrecoverable:
		return ErrTamperedUnrecoverable
	default:
		return nil
	}
}
