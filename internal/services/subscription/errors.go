package subscription

import "errors"

var (
	ErrNotAuthenticated      = errors.New("not authenticated")
	ErrNoSubscription        = errors.New("no subscription")
	ErrAttributionRequired   = errors.New("unit leader purchase requires scout attribution")
	ErrAttributionNotAllowed = errors.New("scout attribution is only allowed for unit leaders")
	ErrPlanNotOffered        = errors.New("plan is not offered for this purchase path")
	ErrAlreadySubscribed     = errors.New("already subscribed")
	ErrNotCanceling          = errors.New("subscription is not scheduled to cancel")
	ErrPeriodElapsed         = errors.New("subscription period has already ended")
)
