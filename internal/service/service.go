// Package service holds the per-organization operations handlers call.
//
// Services only reach storage through tenant-scoped repositories, so every operation is
// confined to the organization bound on the request context.
package service

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned when input fails validation before any storage access.
var ErrInvalidArgument = errors.New("invalid argument")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
