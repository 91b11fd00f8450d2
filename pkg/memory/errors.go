package memory

import "errors"

// ErrNotFound signals that the addressed row does not exist. Read paths that
// synthesize empty values never return it; targeted mutations do.
var ErrNotFound = errors.New("not found")
