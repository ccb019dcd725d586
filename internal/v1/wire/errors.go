package wire

import "errors"

var (
	errEmptyClientID   = errors.New("wire: empty client id")
	errInvalidClientID = errors.New("wire: client id is not a decimal number")
)
