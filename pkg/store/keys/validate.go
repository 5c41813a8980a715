package keys

import (
	"errors"
	"regexp"
)

// letters, digits, dot, underscore, dash; ":" would break key shapes
var idRegexp = regexp.MustCompile(`^[A-Za-z0-9._-]{1,256}$`)

var ErrInvalidID = errors.New("id must be 1-256 chars of [A-Za-z0-9._-]")

func ValidateID(id string) error {
	if !idRegexp.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}
