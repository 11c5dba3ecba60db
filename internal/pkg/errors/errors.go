package errors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalid           = errors.New("invalid")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrSourceUnreachable = errors.New("source unreachable")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrEmbedTransient    = errors.New("embedding failed transiently")
	ErrEmbedPermanent    = errors.New("embedding failed permanently")
	ErrStoreWrite        = errors.New("store write failed")
	ErrRunInFlight       = errors.New("sync already running")
	ErrTooMany           = errors.New("too many requests")
	ErrInternal          = errors.New("internal")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsRunInFlight(err error) bool {
	return errors.Is(err, ErrRunInFlight)
}

func IsInvalidQuery(err error) bool {
	return errors.Is(err, ErrInvalidQuery)
}

// IsTransient reports whether an embedding error may succeed when retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrEmbedTransient)
}

// IsPermanent reports whether an embedding error must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrEmbedPermanent)
}
