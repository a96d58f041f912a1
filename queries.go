package waweb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/waforge/waweb/binary"
)

// User-facing queries are free functions over a Conn; higher-level modules
// are expected to follow the same shape.

// AdminTest asks the server to ping the phone and waits for the reply.
func AdminTest(ctx context.Context, c *Conn) error {
	_, err := c.Query(ctx, QuerySpec{
		JSON:         []any{"admin", "test"},
		Expect200:    true,
		NoPhoneCheck: true,
	})
	return err
}

// Exist checks whether a phone number is registered and returns its JID.
func Exist(ctx context.Context, c *Conn, phone string) (string, error) {
	reply, err := c.Query(ctx, QuerySpec{
		JSON:      []any{"query", "exist", UserJID(phone)},
		Expect200: true,
	})
	if err != nil {
		return "", err
	}
	var body struct {
		JID string `json:"jid"`
	}
	if err := json.Unmarshal(reply.JSON, &body); err != nil {
		return "", fmt.Errorf("failed to parse exist reply: %w", err)
	}
	if body.JID == "" {
		return "", ErrNotOnWhatsApp
	}
	return body.JID, nil
}

// BlockUser adds jid to the block list. Mutations for the same JID are
// serialized. The jid goes out unchanged; the legacy client rewrote it to
// the @c.us form and then discarded the result.
func BlockUser(ctx context.Context, c *Conn, jid string) error {
	return setBlock(ctx, c, jid, "add")
}

// UnblockUser removes jid from the block list.
func UnblockUser(ctx context.Context, c *Conn, jid string) error {
	return setBlock(ctx, c, jid, "remove")
}

func setBlock(ctx context.Context, c *Conn, jid, blockType string) error {
	unlock := c.jidLocks.Lock(jid)
	defer unlock()

	_, err := c.SetQuery(ctx, []binary.Node{{
		Tag:   "block",
		Attrs: map[string]string{"type": blockType},
		Content: []binary.Node{{
			Tag:   "user",
			Attrs: map[string]string{"jid": jid},
		}},
	}})
	return err
}

// ProfilePicThumb fetches the profile picture thumbnail descriptor for jid.
func ProfilePicThumb(ctx context.Context, c *Conn, jid string) (json.RawMessage, error) {
	unlock := c.jidLocks.Lock(jid)
	defer unlock()

	reply, err := c.Query(ctx, QuerySpec{
		JSON:      []any{"query", "ProfilePicThumb", jid},
		Expect200: true,
	})
	if err != nil {
		return nil, err
	}
	return reply.JSON, nil
}

// SubscribePresence asks the server to stream presence updates for jid.
// Fire-and-forget; updates arrive as unsolicited frames.
func SubscribePresence(c *Conn, jid string) error {
	_, err := c.SendJSON([]any{"action", "presence", "subscribe", jid})
	return err
}
