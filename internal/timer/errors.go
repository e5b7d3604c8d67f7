package timer

// TimerError is a custom error type for session orchestration errors
type TimerError string

// Error implements the error interface
func (e TimerError) Error() string {
	return string(e)
}

// Define errors
const (
	ErrSessionAlreadyActive TimerError = "a session is already running for this user"
	ErrNoTimeRemaining      TimerError = "no screen time remaining today"
	ErrNoActiveSession      TimerError = "no running session for this user"
	ErrUnauthorized         TimerError = "action requires a guardian"
	ErrUserNotFound         TimerError = "user not found"
	ErrBonusDisabled        TimerError = "bonus time is disabled for this user"
	ErrInvalidBonus         TimerError = "bonus minutes must be positive"
)
