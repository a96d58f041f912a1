package waweb

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/waforge/waweb/binary"
	"github.com/waforge/waweb/crypto"
	"github.com/waforge/waweb/wire"
)

// write hands one composed frame to the socket. Writes are serialized
// behind the connection lock and the sent counter is bumped strictly once
// per frame, before the hand-off.
func (c *Conn) write(messageType int, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	c.tagger.Bump()
	if err := c.ws.WriteMessage(messageType, frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (c *Conn) sendJSONWithTag(tag string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := c.write(websocket.TextMessage, wire.EncodeJSON(tag, data)); err != nil {
		return err
	}
	mFramesSent.WithLabelValues("json").Inc()
	c.msgLog.add(MessageLogEntry{Tag: tag, Payload: string(data), FromMe: true})
	c.log.Tracef("sent %s", tag)
	return nil
}

func (c *Conn) sendBinaryWithTag(tag string, tags wire.BinaryTags, node binary.Node) error {
	auth := c.authSnapshot()
	if !auth.Complete() {
		return ErrMissingKeys
	}
	data, err := binary.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to encode node: %w", err)
	}
	sealed, err := crypto.Seal(data, auth.EncKey, auth.MacKey)
	if err != nil {
		return fmt.Errorf("failed to seal node: %w", err)
	}
	if err := c.write(websocket.BinaryMessage, wire.EncodeBinary(tag, tags, sealed)); err != nil {
		return err
	}
	mFramesSent.WithLabelValues("binary").Inc()
	c.msgLog.add(MessageLogEntry{Tag: tag, Payload: "<" + node.Tag + ">", FromMe: true, BinaryTags: &tags})
	c.log.Tracef("sent %s (binary)", tag)
	return nil
}

// SendJSON sends a fire-and-forget JSON frame with a fresh tag and returns
// the tag. No waiter is registered; a reply, if any, surfaces as a
// TAG:<tag> event.
func (c *Conn) SendJSON(payload any) (string, error) {
	tag := c.currentTagger().Next(false)
	if err := c.sendJSONWithTag(tag, payload); err != nil {
		return "", err
	}
	return tag, nil
}
