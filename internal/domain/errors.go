package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrMalformedEvent   = errors.New("malformed event")
	ErrUnsupportedEvent = errors.New("unsupported event")
	ErrQueueFull        = errors.New("queue full")
	ErrSchedulerClosed  = errors.New("scheduler closed")
	ErrNotLinked        = errors.New("wallet not linked")
)
