package audit

import "errors"

var (
	errBufferFull = errors.New("audit buffer full")
	errClosed     = errors.New("auditor closed")
)
