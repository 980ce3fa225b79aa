package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrVoteCooldownActive = errors.New("vote cooldown active")
	ErrTargetNotFound     = errors.New("server not found")
	ErrInvalidToken       = errors.New("invalid token")
)

// CooldownError is returned by a vote submission while a prior vote from a
// matching identity is still inside the cooldown window.
type CooldownError struct {
	RetryAfter         time.Time
	Remaining          time.Duration
	RemainingHoursCeil int
}

func (e *CooldownError) Error() string {
	unit := "hours"
	if e.RemainingHoursCeil == 1 {
		unit = "hour"
	}
	return fmt.Sprintf("You can vote again in %d %s", e.RemainingHoursCeil, unit)
}

// Is makes errors.Is(err, ErrVoteCooldownActive) match any *CooldownError.
func (e *CooldownError) Is(target error) bool {
	return target == ErrVoteCooldownActive
}
