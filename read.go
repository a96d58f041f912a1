package waweb

import (
	"encoding/json"

	"github.com/waforge/waweb/binary"
	"github.com/waforge/waweb/crypto"
	"github.com/waforge/waweb/wire"
)

// readLoop pumps inbound frames until the transport fails. One loop runs
// per socket generation; a stale loop's close report is ignored.
func (c *Conn) readLoop(ws socket, gen int) {
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			c.socketClosed(gen, err)
			return
		}
		c.handleFrame(msg)
	}
}

// handleFrame parses one inbound frame and routes it. Framing and crypto
// errors drop the frame and keep the socket open.
func (c *Conn) handleFrame(msg []byte) {
	tag, payload, err := wire.Split(msg)
	if err != nil {
		c.log.Warnf("dropping unparsable frame: %v", err)
		return
	}
	if len(payload) == 0 {
		// Keep-alive echo.
		return
	}
	mFramesReceived.Inc()

	var reply *Reply
	if wire.IsJSON(payload) {
		body := make(json.RawMessage, len(payload))
		copy(body, payload)
		reply = &Reply{Tag: tag, JSON: body}
		c.msgLog.add(MessageLogEntry{Tag: tag, Payload: string(body)})
	} else {
		auth := c.authSnapshot()
		if !auth.Complete() {
			c.log.Warnf("dropping binary frame %q: encryption keys not loaded", tag)
			return
		}
		plain, err := crypto.Open(payload, auth.EncKey, auth.MacKey)
		if err != nil {
			c.log.Warnf("dropping binary frame %q: %v", tag, err)
			return
		}
		node, err := binary.Unmarshal(plain)
		if err != nil {
			c.log.Warnf("dropping binary frame %q: %v", tag, err)
			return
		}
		reply = &Reply{Tag: tag, Node: &node}
		c.msgLog.add(MessageLogEntry{Tag: tag, Payload: "<" + node.Tag + ">"})
	}

	c.log.Tracef("recv %s", tag)
	if c.isProbeReply(tag) {
		c.markPhoneConnected()
	}
	c.corr.deliver(reply)
}
