package scrape

import "errors"

var (
	// ErrRunInProgress means a scrape for the site is already running.
	ErrRunInProgress = errors.New("scrape: run already in progress for site")

	// ErrUnknownSite means no adapter is registered for the site name.
	ErrUnknownSite = errors.New("scrape: unknown site")

	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("scrape: not found")

	// ErrDuplicateConfig means a config for the site name already exists.
	ErrDuplicateConfig = errors.New("scrape: config already exists for site")

	// ErrInvalidInput means a caller-supplied value failed validation.
	ErrInvalidInput = errors.New("scrape: invalid input")
)
