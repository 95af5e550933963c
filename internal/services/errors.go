// Package services defines the business logic for tasks, command handling
// and the daily digest. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// Parse errors from the command package pass through unchanged; callers
// branch on them with errors.As(*command.ParseError).
package services

import "errors"

var (
	// ErrUnknownScope is returned for a task list scope other than
	// open, today, week or overdue.
	ErrUnknownScope = errors.New("unknown task scope")

	// ErrUserNotFound indicates that no user with the given external identity
	// has contacted the bot yet.
	ErrUserNotFound = errors.New("user not found")

	// ErrNoNotifier is returned when a digest run is started without a
	// delivery port.
	ErrNoNotifier = errors.New("digest notifier not configured")
)
