package model

import "fmt"

// errMissingField and errInvalidKind back Command.Validate; callers in
// pkg/gateway fold these into CommandRejected responses.
func errMissingField(field string) error {
	return fmt.Errorf("missing required field %q", field)
}

func errInvalidKind(k Kind) error {
	return fmt.Errorf("invalid command kind %q", k)
}
