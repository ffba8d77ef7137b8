package domain

import "errors"

var (
	ErrSessionClosed    = errors.New("session closed")
	ErrCallExpired      = errors.New("call expired before reaching the device")
	ErrNoDeviceSelected = errors.New("no device selected")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrInvalidEvent     = errors.New("getEvent result is empty")
)
