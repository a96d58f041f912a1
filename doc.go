// Package waweb implements the WhatsApp Web connection engine: the
// authenticated, framed, request/response transport between an application
// and the server, over a single WebSocket.
//
// The engine owns the socket, the tag/reply correlator, the crypto envelope
// on binary frames, the liveness timers, and the disconnect/reconnect state
// machine. Everything above it (pairing, chat and message decoding, media)
// is built on the Query primitive and the event bus:
//
//	conn := waweb.New(waweb.Options{AutoReconnect: waweb.ReconnectOnConnectionLost})
//	conn.LoadAuthInfo(auth)
//	if err := conn.Connect(ctx); err != nil { ... }
//	reply, err := conn.Query(ctx, waweb.QuerySpec{JSON: []any{"query", "exist", jid}, Expect200: true})
package waweb
