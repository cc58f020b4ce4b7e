package deposit

import "errors"

var (
	ErrNoTask           = errors.New("no task set")
	ErrAgentClosed      = errors.New("agent closed")
	ErrControllerClosed = errors.New("controller closed")
	ErrNoNodes          = errors.New("no nodes to collect from")
	ErrUnexpectedReply  = errors.New("unexpected reply")
	ErrDrawerExpired    = errors.New("drawer expired")
	ErrNoBox            = errors.New("node has no safe deposit box")
)
