package store

import "fmt"

// PartialWriteError reports items still unprocessed after the retry budget.
type PartialWriteError struct {
	Table       string
	Unprocessed int
	Written     int
	Err         error
}

func (e *PartialWriteError) Error() string {
	msg := fmt.Sprintf("write %s: %d items unprocessed after %d written", e.Table, e.Unprocessed, e.Written)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}
