package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/wire"
)

// Context is what a receiving node exposes to message handlers. Extra
// capabilities are separate interfaces the same value may implement, such as
// Shutdowner; handlers assert to the capability they need.
type Context interface {
	Name() string
	Log() *slog.Logger
}

// Shutdowner is the capability to stop the receiving node.
type Shutdowner interface {
	RequestShutdown(delay time.Duration)
}

// Responder messages compute a reply that the server writes back on the same
// connection before the exchange completes.
type Responder interface {
	wire.Message
	Respond(ctx context.Context, nc Context) (wire.Message, error)
}

// Handler messages are acted on after the reply is written, on the server's
// handler pool. A message may be both a Responder and a Handler.
type Handler interface {
	wire.Message
	Handle(ctx context.Context, nc Context) error
}

type serverContext struct {
	s *Server
}

func (c serverContext) Name() string                        { return c.s.name }
func (c serverContext) Log() *slog.Logger                   { return c.s.log }
func (c serverContext) RequestShutdown(delay time.Duration) { c.s.RequestShutdown(delay) }

var (
	_ Context    = serverContext{}
	_ Shutdowner = serverContext{}
)
