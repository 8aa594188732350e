package registry

import "errors"

// ErrNotFound is returned when an operation targets a thread_id with no
// matching row.
var ErrNotFound = errors.New("registry: thread not found")
