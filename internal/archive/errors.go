package archive

import (
	"errors"
	"fmt"
)

// CodeFileDoesNotExist is the archive server's error code for a path that
// names neither a collection nor a data object.
const CodeFileDoesNotExist = -310000

// ClientError wraps an error reported by the archive server or by the
// client protocol itself.
type ClientError struct {
	Op      string // operation that failed, e.g. "list", "metamod", "iget"
	Path    string // path involved, empty when the operation has none
	Message string
	Code    int // server error code, 0 when the failure was client-side
}

func (e *ClientError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("archive %s %s: %s (code %d)", e.Op, e.Path, e.Message, e.Code)
	}
	return fmt.Sprintf("archive %s: %s (code %d)", e.Op, e.Message, e.Code)
}

// IsNotExist reports whether err is the archive saying a path does not exist.
func IsNotExist(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.Code == CodeFileDoesNotExist
}
