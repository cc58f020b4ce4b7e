// Package transport moves wire messages between nodes over TCP.
//
// One connection carries one exchange: the client writes a request envelope,
// the server decodes it, writes a reply envelope and closes. What happens on
// the server depends on what the decoded message implements:
//
//   - [Responder]: its reply is computed and written before the exchange ends.
//   - [Handler]: it runs on the handler pool after the reply is written.
//
// A message implementing neither is answered with an absent reply.
//
// # Server
//
//	srv := transport.NewServer(transport.ServerOptions{Addr: ":7070", Name: "node-1"})
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Shutdown()
//
// # Client
//
//	c := transport.NewClient(transport.ClientOptions{})
//	defer c.Shutdown()
//
//	reply, err := c.SendMessage(ctx, addr, &wire.Text{Body: "hi"}, transport.SendOptions{Retries: 3})
//	replies := c.SendMessages(ctx, addrs, msg, transport.SendOptions{})
//
//	c.SendMessageAsync(addr, msg, 3)
//	reply, err = c.ResponseAsync(ctx, connectTimeout, responseTimeout)
//
// Async replies are collected strictly in send order.
package transport
