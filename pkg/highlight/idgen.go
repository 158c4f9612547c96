package highlight

import "github.com/google/uuid"

// IDGenerator produces marker ids.
type IDGenerator func() string

// UUIDv7 ids are time ordered, so ids assigned later sort later.
func UUIDv7() IDGenerator {
	return func() string {
		return "hl-" + uuid.Must(uuid.NewV7()).String()
	}
}
