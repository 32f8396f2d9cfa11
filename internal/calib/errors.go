package calib

import "errors"

var (
	// ErrNotFound marks a record file that does not exist.
	ErrNotFound = errors.New("calibration record not found")
	// ErrMalformed marks a record file that exists but is missing
	// required fields, or carries fields of the wrong shape.
	ErrMalformed = errors.New("calibration record malformed")
)
