package models

import "errors"

var (
	ErrMissingVehicleID   = errors.New("missing vehicle id")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrInvalidPayload     = errors.New("invalid payload")
)

// ClientInputError is returned when a caller submits an update or query that
// cannot be accepted. It is never fatal and never follows a partial mutation.
type ClientInputError struct {
	Field   string
	Message string
	Err     error
}

func (e *ClientInputError) Error() string {
	return e.Message
}

func (e *ClientInputError) Unwrap() error {
	return e.Err
}

// IsClientInputError reports whether err, or anything it wraps, is a
// ClientInputError.
func IsClientInputError(err error) bool {
	var cie *ClientInputError
	return errors.As(err, &cie)
}

func missingVehicleID() error {
	return &ClientInputError{Field: "bus_id", Message: "Missing bus_id", Err: ErrMissingVehicleID}
}

// InvalidCoordinates builds the error returned for unusable query coordinates.
func InvalidCoordinates(field string) error {
	return &ClientInputError{Field: field, Message: "Invalid lat/lng", Err: ErrInvalidCoordinates}
}
