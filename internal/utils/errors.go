package utils

import "fmt"

// AppError ties a failure to the operation and the subject (alert id, node id,
// file path) it happened on.
type AppError struct {
	Op      string
	Subject string
	Err     error
}

func (e *AppError) Error() string {
	switch {
	case e.Subject == "" && e.Err == nil:
		return e.Op
	case e.Subject == "":
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s [%s]", e.Op, e.Subject)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Subject, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Wrap returns nil for a nil err, otherwise an *AppError.
func Wrap(op, subject string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{Op: op, Subject: subject, Err: err}
}
