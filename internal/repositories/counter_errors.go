package repositories

import "fmt"

// CounterError reports that a sequence reached the highest value its reference format can hold,
// for example the ten-thousandth booking of a day.
type CounterError struct {
	CounterID string
	Limit     int64
}

func NewCounterError(counterID string, limit int64) *CounterError {
	return &CounterError{CounterID: counterID, Limit: limit}
}

func (e *CounterError) Error() string {
	return fmt.Sprintf("counter %s reached its limit of %d", e.CounterID, e.Limit)
}

func (e *CounterError) IsNotFound() bool    { return false }
func (e *CounterError) IsConflict() bool    { return true }
func (e *CounterError) IsUnavailable() bool { return false }
