package order

import "errors"

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrAlreadyCompleted = errors.New("order already completed")
)
