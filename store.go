package docstore

import (
	"errors"
)

var (
	// ErrNotFound is the error returned when a requested document,
	// or a complete version of it,
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalid is the error returned for malformed requests,
	// such as a blank name or a blank id.
	ErrInvalid = errors.New("invalid request")

	// ErrUnknownType is the error returned when a document type is not recognized.
	ErrUnknownType = errors.New("unrecognized document type")

	// ErrUnbound is the error returned when a document actor is asked about a document
	// it was never created for.
	ErrUnbound = errors.New("document actor not bound to this document")

	// ErrTenantConflict is the error returned when a tenant actor
	// that has already been claimed by one tenant id
	// is presented with a different one.
	// This indicates misrouting or storage corruption and is never the caller's fault.
	ErrTenantConflict = errors.New("tenant actor claimed by a different tenant")
)

// IsClientFault tells whether err is the caller's fault
// (and retrying the same request will not help)
// as opposed to a server-side failure.
func IsClientFault(err error) bool {
	for _, target := range []error{ErrNotFound, ErrInvalid, ErrUnknownType, ErrUnbound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
