package signal

import "fmt"

// ExhaustivenessError is returned from a default arm over a finite tag
// union (IndexState, block Encoding, ...) so that a union growing a new
// member makes every unhandled switch fail loudly instead of silently
// falling through.
type ExhaustivenessError struct {
	Union string
	Value any
}

func (e *ExhaustivenessError) Error() string {
	return fmt.Sprintf("unhandled %s value: %v", e.Union, e.Value)
}

// Unhandled constructs an ExhaustivenessError for the given union name and
// unexpected value. Intended for use in a switch's default case.
func Unhandled(union string, value any) error {
	return &ExhaustivenessError{Union: union, Value: value}
}
