package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration decodes the "HH:mm:ss" string fields used throughout the plc
// connection config (timeouts, poll intervals, backoff bases) into a
// time.Duration.
type Duration time.Duration

// Std returns the standard library time.Duration value.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalJSON accepts either an "HH:mm:ss" string or a bare integer
// number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string:
		var h, m, s int
		if _, err := fmt.Sscanf(v, "%d:%d:%d", &h, &m, &s); err != nil {
			return fmt.Errorf("invalid duration %q: expected HH:mm:ss", v)
		}
		*d = Duration(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second)
		return nil
	case float64:
		*d = Duration(time.Duration(v) * time.Second)
		return nil
	default:
		return fmt.Errorf("invalid duration value: %v", raw)
	}
}

// MarshalJSON renders the duration back out as "HH:mm:ss".
func (d Duration) MarshalJSON() ([]byte, error) {
	total := int(time.Duration(d).Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return json.Marshal(fmt.Sprintf("%02d:%02d:%02d", h, m, s))
}
