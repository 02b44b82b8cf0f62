package bootstrap

import (
	"errors"
	"fmt"
	"strings"
)

// ExitCode identifies a terminal bootstrap failure. The numeric value is the
// process exit status and the last element of the help link.
type ExitCode int

const (
	ExitOK                   ExitCode = 0
	ExitMissingPackage       ExitCode = 10
	ExitResourcesUnavailable ExitCode = 11
	ExitRuntimeUnavailable   ExitCode = 12
	ExitChainCancelled       ExitCode = 13
	ExitSecondStageMissing   ExitCode = 14
	ExitUnknown              ExitCode = 15
	ExitCancelled            ExitCode = 16
	ExitBusy                 ExitCode = 17
	ExitConfig               ExitCode = 18
)

var exitMessages = map[ExitCode]string{
	ExitOK:                   "success",
	ExitMissingPackage:       "Missing package file name on command line.",
	ExitResourcesUnavailable: "Unable to find or download the bootstrap resources.",
	ExitRuntimeUnavailable:   "Unable to find or download the runtime installer (required).",
	ExitChainCancelled:       "The installation was abnormally cancelled.",
	ExitSecondStageMissing:   "Can't find second stage bootstrap.",
	ExitUnknown:              "Unknown error.",
	ExitCancelled:            "The bootstrap was cancelled.",
	ExitBusy:                 "Another bootstrap is already running.",
	ExitConfig:               "The bootstrap configuration is invalid.",
}

func (c ExitCode) String() string {
	if msg, ok := exitMessages[c]; ok {
		return msg
	}
	return fmt.Sprintf("exit code %d", int(c))
}

// HelpURL returns the help link for c under base, or "" without a base.
func (c ExitCode) HelpURL(base string) string {
	if base == "" || c == ExitOK {
		return ""
	}
	return strings.TrimSuffix(base, "/") + "/" + fmt.Sprint(int(c))
}

// Failure is a terminal bootstrap error carrying its exit code.
type Failure struct {
	Code ExitCode
	Err  error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Code, f.Err)
	}
	return f.Code.String()
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(code ExitCode, err error) *Failure {
	return &Failure{Code: code, Err: err}
}

// CodeOf maps err to an exit code: ExitOK for nil, the Failure's code when
// err wraps one, ExitUnknown otherwise.
func CodeOf(err error) ExitCode {
	if err == nil {
		return ExitOK
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Code
	}
	return ExitUnknown
}
