package defaults

import (
	"fmt"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/sahib/config"
)

// durationValidator is config.DurationValidator that also
// refuses negative durations.
func durationValidator() func(val interface{}) error {
	parses := config.DurationValidator()
	return func(val interface{}) error {
		if err := parses(val); err != nil {
			return err
		}

		// Safe: parses() made sure it is a valid duration string.
		if d, _ := time.ParseDuration(val.(string)); d < 0 {
			return fmt.Errorf("duration may not be negative: %v", d)
		}

		return nil
	}
}

// SizeValidator checks if the supplied string is a byte size
// like "4 GiB" or "512KB".
func SizeValidator() func(val interface{}) error {
	return func(val interface{}) error {
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("size is not a string: %v", val)
		}

		if _, err := humanize.ParseBytes(s); err != nil {
			return fmt.Errorf("invalid size %q: %v", s, err)
		}

		return nil
	}
}

// ParseSize is the counterpart to SizeValidator.
func ParseSize(s string) (uint64, error) {
	return humanize.ParseBytes(s)
}
