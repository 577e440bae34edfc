package infra

import (
	"strings"
	"time"
	_ "time/tzdata"

	cerrors "go_json_columnar_convertor/errors"
)

// ParseTimezone converts an IANA zone name, "UTC" or "Local" to a location. Empty is the
// process's local zone.
func ParseTimezone(name string) (*time.Location, error) {
	switch strings.TrimSpace(name) {
	case "UTC":
		return time.UTC, nil
	case "", "Local", "local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrorTypeConfig, "unknown timezone").WithDetail("timezone", name)
	}
	return loc, nil
}
