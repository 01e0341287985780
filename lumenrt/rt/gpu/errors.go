package gpu

import (
	"errors"
	"fmt"
)

var (
	ErrProgramLink = errors.New("program link failed")
	ErrNotFound    = errors.New("resource not found")
	ErrOutOfRange  = errors.New("write out of range")
)

// DeviceError is a device-reported failure during a named pass.
type DeviceError struct {
	Pass string
	Op   string
	Err  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("gpu: pass %q: %s: %v", e.Pass, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err, otherwise a *DeviceError.
func Wrap(pass, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return err
	}
	return &DeviceError{Pass: pass, Op: op, Err: err}
}
