package model

import "errors"

var (
	ErrInvalidURL      = errors.New("invalid feed url")
	ErrInvalidInterval = errors.New("interval out of range")
	ErrInvalidFeed     = errors.New("url is not a valid feed")
	ErrAlreadyExists   = errors.New("feed already exists")
	ErrNotFound        = errors.New("feed not found")
	ErrLimitExceeded   = errors.New("feed limit exceeded for destination")
	ErrFetch           = errors.New("fetch failed")
	ErrParse           = errors.New("parse failed")
	ErrPersistence     = errors.New("persistence failed")
	ErrDelivery        = errors.New("delivery failed")
	ErrCorruptSnapshot = errors.New("snapshot is corrupt")
)

var (
	ErrInvalidDestination = errors.New("destination is empty")
	ErrCheckInProgress    = errors.New("a check of this feed is already running")
)
