package validation

import "errors"

var errNoAssessor = errors.New("no title assessor configured")
