package plan

import "errors"

var (
	ErrPlanNotFound     = errors.New("plan not found")
	ErrPlanInactive     = errors.New("plan is not active")
	ErrFailedToLoadPlan = errors.New("failed to load plan")
)
