package repository

import "errors"

// ErrNotFound is returned by stores when no row matches, including conditional updates whose guard failed.
var ErrNotFound = errors.New("repository: not found")
