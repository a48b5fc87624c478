package audiostream

import "errors"

// ErrNoInputDevice is returned when no capture device is available.
var ErrNoInputDevice = errors.New("no audio input device")

// Error is a failure of the capture pipeline.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "audio " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
