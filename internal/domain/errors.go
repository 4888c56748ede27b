package domain

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrInvalidRequest    = errors.New("invalid interaction request")
	ErrQueueTimeout      = errors.New("timed out waiting for a free session")
	ErrPoolClosed        = errors.New("session pool closed")
	ErrCapacity          = errors.New("session ceiling reached")
	ErrHostInit          = errors.New("session host initialization failed")
	ErrSessionClosed     = errors.New("session closed")
	ErrNavigation        = errors.New("navigation failed")
	ErrActionTimeout     = errors.New("action timeout")
	ErrElementNotFound   = errors.New("element not found")
	ErrAttemptsExhausted = errors.New("interaction attempts exhausted")
	ErrCancelled         = errors.New("interaction cancelled")
	ErrWaiterExists      = errors.New("retry waiter already registered")
	ErrWaiterNotFound    = errors.New("retry waiter not found")
	ErrProxyUnavailable  = errors.New("no proxy available")
)

// IsTimeout reports whether err indicates an expired wait, whichever layer raised it.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrActionTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
