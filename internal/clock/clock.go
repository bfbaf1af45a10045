// Package clock abstracts time so retry windows and sweeps are testable.
package clock

import "time"

// Clock supplies the current UTC instant.
type Clock interface {
	Now() time.Time
}
