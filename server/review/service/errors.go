package service

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrPersistence  = errors.New("persistence failure")
	ErrDuplicate    = errors.New("duplicate submission")
	ErrHubStopped   = errors.New("hub stopped")
)
