package agent

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// routeError is a route failure meant for the user. Error keeps the usual
// lowercase form; the envelope shows Sentence.
type routeError struct {
	err error
}

func routeErrorf(format string, args ...any) error {
	return &routeError{err: fmt.Errorf(format, args...)}
}

func (e *routeError) Error() string { return e.err.Error() }
func (e *routeError) Unwrap() error { return e.err }

// Sentence capitalizes the message and closes it with a period
func (e *routeError) Sentence() string {
	msg := e.err.Error()
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	msg = string(unicode.ToUpper(r)) + msg[size:]
	if !strings.HasSuffix(msg, ".") && !strings.HasSuffix(msg, "?") && !strings.HasSuffix(msg, "!") {
		msg += "."
	}
	return msg
}

// envelopeMessage is the text an error contributes to the envelope
func envelopeMessage(err error) string {
	var re *routeError
	if errors.As(err, &re) {
		return re.Sentence()
	}
	return err.Error()
}
