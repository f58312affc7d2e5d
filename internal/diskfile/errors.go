package diskfile

import "errors"

// ErrClosed is returned by any operation on a file that has already been
// closed.
var ErrClosed = errors.New("diskfile: file is closed")
