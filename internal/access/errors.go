package access

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("access: not found")
	ErrInvalidInput    = errors.New("access: invalid input")
	ErrUnauthenticated = errors.New("access: unauthenticated")
	ErrDenied          = errors.New("access: denied")
)

// ErrInvalidToken is the bearer-token flavour of an authentication failure;
// errors.Is(err, ErrUnauthenticated) holds for it as well.
var ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
