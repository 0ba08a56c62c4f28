package models

import "github.com/pkg/errors"

// ErrSimNotFound is returned by stores when the addressed sim card does not exist.
var ErrSimNotFound = errors.New("sim card not found")
