package waweb

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/waforge/waweb/binary"
	"github.com/waforge/waweb/wire"
)

// QuerySpec describes one request/response exchange.
type QuerySpec struct {
	// JSON is the payload: a JSON value for text frames, or the node list
	// form (or a binary.Node) when Binary is set.
	JSON any
	// Binary selects the binary path and carries the metric/flag pair.
	Binary *wire.BinaryTags
	// Tag overrides the generated correlation tag.
	Tag string
	// Timeout overrides the default per-request deadline; negative
	// disables it.
	Timeout time.Duration
	// Expect200 asks for status checking of the reply, including the
	// one-shot bad-session reconnect on 599.
	Expect200 bool
	// SkipOpenWait sends without waiting for the open state (handshake
	// traffic).
	SkipOpenWait bool
	// LongTag requests the full unix-seconds tag prefix.
	LongTag bool
	// NoPhoneCheck marks the request as answerable by the server alone,
	// keeping the phone probe disarmed.
	NoPhoneCheck bool
	// StartDebounce arms the idle-debounce timer after a successful
	// reply.
	StartDebounce bool
}

// Query sends one request and waits for its correlated reply.
func (c *Conn) Query(ctx context.Context, q QuerySpec) (*Reply, error) {
	return c.runQuery(ctx, q, 0)
}

func (c *Conn) runQuery(ctx context.Context, q QuerySpec, depth int) (*Reply, error) {
	if !q.SkipOpenWait {
		if err := c.WaitForConnection(ctx); err != nil {
			return nil, err
		}
	}

	tag := q.Tag
	if tag == "" {
		tag = c.currentTagger().Next(q.LongTag)
	}
	timeout := q.Timeout
	if timeout == 0 {
		timeout = c.opts.QueryTimeout
	}
	if timeout < 0 {
		timeout = 0
	}

	// Register before send so a reply can never beat its waiter.
	pr, err := c.corr.register(tag, !q.NoPhoneCheck, timeout)
	if err != nil {
		return nil, err
	}

	if q.Binary != nil {
		node, err := nodeFromPayload(q.JSON)
		if err != nil {
			c.corr.cancel(tag)
			return nil, err
		}
		if err := c.sendBinaryWithTag(tag, *q.Binary, node); err != nil {
			c.corr.cancel(tag)
			return nil, err
		}
	} else {
		if err := c.sendJSONWithTag(tag, q.JSON); err != nil {
			c.corr.cancel(tag)
			return nil, err
		}
	}

	var res queryResult
	select {
	case res = <-pr.ch:
	case <-ctx.Done():
		c.corr.cancel(tag)
		return nil, ctx.Err()
	}
	if res.err != nil {
		mQueryFailures.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("query %s failed: %w", tag, res.err)
	}

	if q.Expect200 {
		if status, ok := res.reply.Status(); ok && (status < 200 || status > 299) {
			queryJSON, _ := json.Marshal(q.JSON)
			if status == 599 && depth < 1 {
				// A bad session needs a fresh socket; retry once after
				// the reconnect.
				c.log.Warnf("query %s got 599, reconnecting and retrying", tag)
				c.unexpectedDisconnect(ReasonBadSession)
				return c.runQuery(ctx, q, depth+1)
			}
			mQueryFailures.WithLabelValues("server").Inc()
			return nil, &ServerError{Status: status, StatusText: StatusText(status), Query: queryJSON}
		}
	}

	if q.StartDebounce {
		c.armIdleTimeout()
	}
	return res.reply, nil
}

// SetQuery wraps nodes in an action envelope carrying the current epoch and
// sends it on the binary path with the group/ignore routing pair.
func (c *Conn) SetQuery(ctx context.Context, nodes []binary.Node) (*Reply, error) {
	return c.Query(ctx, QuerySpec{
		JSON: []any{
			"action",
			map[string]string{"epoch": strconv.Itoa(c.currentTagger().Count()), "type": "set"},
			nodes,
		},
		Binary:    &wire.BinaryTags{Metric: wire.MetricGroup, Flag: wire.FlagIgnore},
		Expect200: true,
	})
}

func nodeFromPayload(v any) (binary.Node, error) {
	switch payload := v.(type) {
	case binary.Node:
		return payload, nil
	case []any:
		return binary.FromList(payload)
	default:
		return binary.Node{}, fmt.Errorf("waweb: binary payload is %T, want node list", v)
	}
}
