// Package time provides wire formats for the timestamps the identity
// provider uses. Token responses carry a mix of unix epochs, second
// durations and a few legacy string layouts; these types normalize all of
// them into time.Time.
package time

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unix marshals and unmarshals a string representation of the unix epoch.
type Unix struct {
	T time.Time
}

// MarshalJSON implements encoding/json.Marshaler.
func (u Unix) MarshalJSON() ([]byte, error) {
	if u.T.IsZero() {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("%q", strconv.FormatInt(u.T.Unix(), 10))), nil
}

// UnmarshalJSON implements encoding/json.Unmarshaler.
func (u *Unix) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		return nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("unix time(%s) could not be converted to an integer: %w", s, err)
	}
	u.T = time.Unix(i, 0)
	return nil
}

// DurationTime unmarshals the provider's expiry fields into a concrete
// time.Time. The wire value is usually seconds-from-now ("expires_in") but
// some endpoints return an absolute epoch or a legacy date string instead, so
// every observed layout is accepted.
type DurationTime struct {
	T time.Time
}

// MarshalJSON implements encoding/json.Marshaler.
func (d DurationTime) MarshalJSON() ([]byte, error) {
	if d.T.IsZero() {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("%d", int64(time.Until(d.T)/time.Second))), nil
}

// UnmarshalJSON implements encoding/json.Unmarshaler.
func (d *DurationTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		return nil
	}

	// A 10 digit integer is an absolute epoch, anything shorter a duration.
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		if len(s) == 10 {
			d.T = time.Unix(i, 0)
		} else {
			d.T = time.Now().Add(time.Duration(i) * time.Second)
		}
		return nil
	}

	for _, layout := range []string{
		"2006-01-02T15:04:05.9999999-07:00",
		"01/02/2006 15:04:05",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			d.T = t
			return nil
		}
	}
	return fmt.Errorf("expiry time(%s) is in no recognized format", s)
}
