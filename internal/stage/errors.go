package stage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool = errors.New("external tool error")
	ErrStorage      = errors.New("storage error")
	ErrBroker       = errors.New("broker error")
)

// errEmptyTranscript is recorded verbatim as the failure details.
var errEmptyTranscript = errors.New("empty transcript")

// Rejection is an expected negative outcome with a well-known reason.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return "rejected: " + r.Reason
}

func reject(reason string) error {
	return &Rejection{Reason: reason}
}

// Wrap tags err with a marker and the stage/operation it came from.
func Wrap(marker error, stage, operation string, err error) error {
	detail := strings.Trim(stage+": "+operation, ": ")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}
