package gocap

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/njeffords/gocap/internal/engine"
)

// Error is an engine-reported failure: a status code plus, when one was
// available, the human-readable message from the error buffer or the
// session's last-error accessor. The code is always populated and is the
// authoritative part; the message is advisory.
type Error struct {
	Message string
	Code    int32
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("capture error %d", e.Code)
	}
	return fmt.Sprintf("capture error %d: %s", e.Code, e.Message)
}

// newErrbuf allocates the fixed-size error-message buffer passed by
// address into engine calls.
func newErrbuf() []byte {
	return make([]byte, engine.ErrbufSize)
}

// decodeErrbuf extracts the NUL-terminated message from an error buffer.
// A buffer with no terminator yields an absent message; invalid UTF-8 is
// decoded lossily rather than rejected.
func decodeErrbuf(errbuf []byte) string {
	n := bytes.IndexByte(errbuf, 0)
	if n < 0 {
		return ""
	}
	return strings.ToValidUTF8(string(errbuf[:n]), "�")
}

func errorFromBuf(errbuf []byte, code int32) *Error {
	return &Error{Message: decodeErrbuf(errbuf), Code: code}
}

func errorFromSession(sess engine.Session, code int32) *Error {
	return &Error{
		Message: strings.ToValidUTF8(sess.LastError(), "�"),
		Code:    code,
	}
}

// mustNotContainNUL enforces the text contract of the native engine:
// an embedded NUL in a caller-supplied string is a malformed literal, not
// an environmental failure, so it panics instead of returning an Error.
func mustNotContainNUL(s, what string) {
	if strings.IndexByte(s, 0) >= 0 {
		panic(what + " contains an embedded NUL byte")
	}
}
