package email

import "errors"

// ServiceError reports a failed Mail Manager operation whose cause is a
// missing or unreadable cache record. The cause stays reachable through
// errors.Is and errors.As.
type ServiceError struct {
	Msg string
	Err error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func serviceError(msg string, err error) error {
	return &ServiceError{Msg: msg, Err: err}
}

// IsServiceError reports whether err is or wraps a ServiceError
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
