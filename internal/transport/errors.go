package transport

import (
	"errors"
	"fmt"
	"strings"

	gosmtp "github.com/emersion/go-smtp"
)

// Error wraps a transport failure with classification metadata.
type Error struct {
	// Transport is the name of the transport that failed.
	Transport string
	// Code is the SMTP reply code, zero for non-protocol failures.
	Code int
	// Message is the error description.
	Message string
	// Permanent indicates the error will not succeed on retry.
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %d %s", e.Transport, e.Code, e.Message)
	}
	return e.Transport + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// IsPermanent returns true if err is a transport failure that will not
// succeed on retry.
func IsPermanent(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Permanent
	}
	return false
}

// IsTransient returns true if the error is a temporary failure that may
// succeed on retry.
func IsTransient(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return !te.Permanent
	}
	// Unknown errors are treated as transient to avoid data loss.
	return true
}

// Classify converts err into an *Error for the named transport. SMTP 5xx
// replies are permanent and 4xx replies transient. Everything else, network
// and context failures included, is transient.
func Classify(transportName string, err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}

	out := &Error{Transport: transportName, Message: err.Error(), Err: err}

	var se *gosmtp.SMTPError
	if errors.As(err, &se) {
		out.Code = se.Code
		out.Message = se.Message
		out.Permanent = se.Code >= 500 && se.Code < 600 && !containsTransientIndicator(se.Message)
	}
	return out
}

// containsTransientIndicator catches servers that answer 5xx for conditions
// that clear up on their own.
func containsTransientIndicator(msg string) bool {
	lower := strings.ToLower(msg)
	for _, pattern := range []string{
		"try again later",
		"temporarily",
		"greylist",
		"too many connections",
	} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
