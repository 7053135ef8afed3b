package cli

import (
	"errors"
	"fmt"
)

// failure carries what a command reports when it fails: the exit code, the
// JSON error code and a short message. The cause is kept for %w chains.
type failure struct {
	exit    int
	code    string
	message string
	err     error
}

func (f *failure) Error() string {
	if f.err != nil {
		return fmt.Sprintf("%s: %v", f.message, f.err)
	}
	return f.message
}

func (f *failure) Unwrap() error {
	return f.err
}

func fail(exit int, code, message string, err error) *failure {
	return &failure{exit: exit, code: code, message: message, err: err}
}

// Report writes err in the configured format and returns the ExitError the
// command should return.
func (f *OutputFormatter) Report(err error) error {
	var fl *failure
	if errors.As(err, &fl) {
		return f.Fail(fl.exit, fl.code, fl.message, fl.err)
	}
	return f.Fail(ExitFailure, ErrCodeGeneric, "command failed", err)
}
