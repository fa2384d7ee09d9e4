package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrNotConnected = errors.New("not connected")
	ErrInvalidQuote = errors.New("invalid quote")
)
