package service

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrForbidden        = errors.New("forbidden")
	ErrRateLimited      = errors.New("too many booking requests, try again later")
	ErrRoomInactive     = errors.New("room is not active")
	ErrUserNotApproved  = errors.New("user is not approved")
	ErrOutsideHours     = errors.New("slot is outside working hours")
	ErrPastDate         = errors.New("cannot book in the past")
	ErrDateTooFar       = errors.New("booking date is too far ahead")
	ErrBookingCancelled = errors.New("booking is cancelled")
)
