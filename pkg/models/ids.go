package models

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

const tempIDPrefix = "local-"

// NewTempID returns a temporary message id. Ids sort by creation time, with
// monotonic ordering inside the same millisecond.
func NewTempID() string {
	return tempIDPrefix + ulid.Make().String()
}

// IsTempID reports whether id was generated by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// NewActionID returns a queued action id; lexical order is creation order.
func NewActionID() string {
	return ulid.Make().String()
}
