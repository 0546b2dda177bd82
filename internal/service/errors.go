package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates a required field was empty or malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicateUsername is returned when registering a username that is taken.
	ErrDuplicateUsername = errors.New("username already taken")
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUnauthenticated is returned when a session token is missing, tampered or expired.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound is returned when a task does not exist or belongs to another user.
	ErrNotFound = errors.New("not found")
)

var (
	// ErrTitleRequired is the ErrInvalidInput raised for a blank task title.
	ErrTitleRequired = fmt.Errorf("task title is required: %w", ErrInvalidInput)
	// ErrInvalidDueDate is the ErrInvalidInput raised for a malformed due date.
	ErrInvalidDueDate = fmt.Errorf("due date must be YYYY-MM-DD: %w", ErrInvalidInput)
	// ErrPasswordTooLong is the ErrInvalidInput raised for passwords bcrypt cannot hash.
	ErrPasswordTooLong = fmt.Errorf("password must be at most 72 bytes: %w", ErrInvalidInput)
)
