package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork means a portal endpoint could not be reached or answered with a non-2xx status.
	ErrNetwork = errors.New("tracker: network error")
	// ErrParse means the portal answered but the expected markup or json structure is missing.
	ErrParse = errors.New("tracker: parse error")
	// ErrNotFound means the status endpoint returned an empty payload.
	ErrNotFound = errors.New("tracker: not found")
	// ErrFormat means a field was present but could not be interpreted.
	ErrFormat = errors.New("tracker: format error")
)

// NotFoundError is returned by FetchStatus when the portal knows nothing about the
// facility/patient pair, it matches ErrNotFound with errors.Is.
type NotFoundError struct {
	FacilityID string
	PatientID  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf(
		"tracker: no status found for facility %q and patient %q",
		e.FacilityID, e.PatientID,
	)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
