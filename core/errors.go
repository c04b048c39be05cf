package core

import "errors"

var (
	ErrInvalidAmount      = errors.New("deposit amount must be positive")
	ErrInvalidAction      = errors.New("action must be long or short")
	ErrInvalidThreshold   = errors.New("threshold must be a positive integer")
	ErrInvalidDeposit     = errors.New("user id and a positive amount are required")
	ErrPollCreationFailed = errors.New("poll creation failed")
	ErrNoActivePoll       = errors.New("no active poll")
)
