package registry

import (
	"errors"
	"fmt"
)

// NotFoundError reports an unknown profile key.
type NotFoundError struct{ Key string }

func (e NotFoundError) Error() string { return "profile not found: " + e.Key }

// IsNotFound reports whether err indicates an unknown profile key.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// InvalidProfileError reports a profile that fails launch preconditions.
type InvalidProfileError struct {
	Key    string
	Reason string
}

func (e InvalidProfileError) Error() string {
	return fmt.Sprintf("invalid profile %q: %s", e.Key, e.Reason)
}

// IsInvalidProfile reports whether err indicates a precondition failure.
func IsInvalidProfile(err error) bool {
	var ip InvalidProfileError
	return errors.As(err, &ip)
}
