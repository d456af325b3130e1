package scheduler

import "errors"

// ErrNoAvailableAccount is returned when every pool tier exhausts with no
// healthy, non-excluded candidate. It is fatal for the current request:
// the executor surfaces it as a service-unavailable condition and never
// retries it internally.
var ErrNoAvailableAccount = errors.New("scheduler: no available account")
