package capacity

import (
	"errors"
	"fmt"

	"github.com/farellandr/gigboard/internal/models"
)

var (
	ErrLockTimeout         = errors.New("occurrence is busy, try again")
	ErrSignupNotFound      = errors.New("signup not found")
	ErrOccurrenceCancelled = errors.New("occurrence is cancelled")
	ErrOccurrencePast      = errors.New("occurrence has already happened")
	ErrAlreadySignedUp     = errors.New("participant already signed up for this occurrence")
	ErrNameRequired        = errors.New("name is required")
)

// InvalidTransitionError is returned for a status change the lifecycle does
// not allow, such as cancelling twice.
type InvalidTransitionError struct {
	From models.SignupStatus
	To   models.SignupStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move signup from %s to %s", e.From, e.To)
}

var transitions = map[models.SignupStatus][]models.SignupStatus{
	models.SignupConfirmed: {models.SignupCancelled},
	models.SignupWaitlist:  {models.SignupConfirmed, models.SignupCancelled},
}

func checkTransition(from, to models.SignupStatus) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &InvalidTransitionError{From: from, To: to}
}
