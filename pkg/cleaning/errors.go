package cleaning

import "errors"

// ErrInvalidRequest is returned for requests that cannot be screened, such as
// a missing agent id when no policy id is given.
var ErrInvalidRequest = errors.New("invalid request")
