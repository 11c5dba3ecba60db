package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrInvalid
	ErrInvalidQuery
	ErrNotFound
	ErrConflict
	ErrTooMany
	ErrInternal
	ErrSourceUnreachable
	ErrPermissionDenied
	ErrEmbedUnavailable
	ErrStoreWrite
)
