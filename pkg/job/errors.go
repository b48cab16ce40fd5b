package job

import "errors"

var (
	ErrPoolRequired    = errors.New("job: database pool is required")
	ErrUnknownTask     = errors.New("job: unknown task")
	ErrInvalidPayload  = errors.New("job: invalid task payload")
	ErrInvalidSchedule = errors.New("job: invalid cron schedule")
	ErrAlreadyStarted  = errors.New("job: runner already started")
	ErrNotStarted      = errors.New("job: runner not started")
	ErrHealthcheck     = errors.New("job: healthcheck failed")
)
