package transfer

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a fetch failed.
type ErrorKind int

const (
	// KindBadURL means the URL could not be parsed or names no usable scheme.
	KindBadURL ErrorKind = iota + 1
	// KindNoConnection means the host could not be resolved.
	KindNoConnection
	// KindConnectFailed means the TCP connection could not be established.
	KindConnectFailed
	// KindRequestFailed means the request could not be sent.
	KindRequestFailed
	// KindNoResponse means no response header arrived in time.
	KindNoResponse
	// KindNotOK means the server answered with a non-success status.
	KindNotOK
	// KindNoDataAvailable means the body stalled, broke off or was empty.
	KindNoDataAvailable
	// KindAllocationFailure means the read buffer could not be set up.
	KindAllocationFailure
	// KindCancelled means the caller's context ended the transfer.
	KindCancelled
	// KindCreateFailed means the local destination could not be written.
	KindCreateFailed
)

var kindNames = map[ErrorKind]string{
	KindBadURL:            "bad url",
	KindNoConnection:      "no connection",
	KindConnectFailed:     "connect failed",
	KindRequestFailed:     "request failed",
	KindNoResponse:        "no response",
	KindNotOK:             "not ok",
	KindNoDataAvailable:   "no data available",
	KindAllocationFailure: "allocation failure",
	KindCancelled:         "cancelled",
	KindCreateFailed:      "create failed",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// FetchError is returned by every failed fetch.
type FetchError struct {
	Kind ErrorKind
	URL  string
	// StatusCode is set for KindNotOK.
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a *FetchError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

func newFetchError(kind ErrorKind, url string, err error) *FetchError {
	return &FetchError{Kind: kind, URL: url, Err: err}
}
