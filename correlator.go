package waweb

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/waforge/waweb/binary"
	"github.com/waforge/waweb/eventbus"
	"github.com/waforge/waweb/pkg/logger"
)

// Reply is one inbound frame delivered to a waiter or to TAG subscribers.
// Exactly one of JSON and Node is set.
type Reply struct {
	Tag  string
	JSON json.RawMessage
	Node *binary.Node
}

// Status extracts the numeric "status" field of a JSON reply. ok is false
// for binary replies and replies without a status.
func (r *Reply) Status() (status int, ok bool) {
	if r == nil || r.JSON == nil {
		return 0, false
	}
	var body struct {
		Status *int `json:"status"`
	}
	if err := json.Unmarshal(r.JSON, &body); err != nil || body.Status == nil {
		return 0, false
	}
	return *body.Status, true
}

type queryResult struct {
	reply *Reply
	err   error
}

// pendingRequest is one registered waiter. Its lifetime runs from Register
// to reply, socket close, cancel, or deadline.
type pendingRequest struct {
	tag           string
	requiresPhone bool
	deadline      *time.Timer
	ch            chan queryResult
}

// correlator owns the tag -> waiter registry. Replies resolve waiters in
// arrival order; unclaimed replies are republished as TAG:<tag> events.
type correlator struct {
	mu      sync.Mutex
	waiters map[string]*pendingRequest
	phone   int

	bus *eventbus.Bus
	log logger.Logger

	// onPhoneWaiters fires outside the lock when the count of
	// requiresPhone waiters moves between zero and nonzero.
	onPhoneWaiters func(active bool)
}

func newCorrelator(bus *eventbus.Bus, log logger.Logger) *correlator {
	return &correlator{
		waiters: make(map[string]*pendingRequest),
		bus:     bus,
		log:     log,
	}
}

// register inserts a waiter for tag. A positive timeout arms a per-request
// deadline that fails only this waiter.
func (c *correlator) register(tag string, requiresPhone bool, timeout time.Duration) (*pendingRequest, error) {
	c.mu.Lock()
	if _, exists := c.waiters[tag]; exists {
		c.mu.Unlock()
		return nil, ErrDuplicateTag
	}
	pr := &pendingRequest{
		tag:           tag,
		requiresPhone: requiresPhone,
		ch:            make(chan queryResult, 1),
	}
	c.waiters[tag] = pr
	phoneArmed := false
	if requiresPhone {
		c.phone++
		phoneArmed = c.phone == 1
	}
	c.mu.Unlock()

	if timeout > 0 {
		pr.deadline = time.AfterFunc(timeout, func() {
			c.fail(tag, ErrTimeout)
		})
	}
	if phoneArmed && c.onPhoneWaiters != nil {
		c.onPhoneWaiters(true)
	}
	return pr, nil
}

// deliver resolves and removes the waiter for reply.Tag. Without a waiter
// the reply is republished for late subscribers and dropped.
func (c *correlator) deliver(reply *Reply) {
	pr := c.pop(reply.Tag)
	if pr == nil {
		c.bus.Publish("TAG:"+reply.Tag, reply)
		return
	}
	pr.ch <- queryResult{reply: reply}
}

// fail rejects and removes the waiter for tag, if any.
func (c *correlator) fail(tag string, err error) {
	if pr := c.pop(tag); pr != nil {
		pr.ch <- queryResult{err: err}
	}
}

// cancel removes the waiter for tag without resolving it.
func (c *correlator) cancel(tag string) {
	c.pop(tag)
}

// failAll rejects every waiter with err and clears the registry. Invoked on
// socket close.
func (c *correlator) failAll(err error) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = make(map[string]*pendingRequest)
	hadPhone := c.phone > 0
	c.phone = 0
	c.mu.Unlock()

	for _, pr := range waiters {
		if pr.deadline != nil {
			pr.deadline.Stop()
		}
		pr.ch <- queryResult{err: err}
	}
	if hadPhone && c.onPhoneWaiters != nil {
		c.onPhoneWaiters(false)
	}
	if len(waiters) > 0 {
		c.log.Debugf("correlator: failed %d pending requests: %v", len(waiters), err)
	}
}

// pending reports the number of registered waiters.
func (c *correlator) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *correlator) pop(tag string) *pendingRequest {
	c.mu.Lock()
	pr := c.waiters[tag]
	if pr == nil {
		c.mu.Unlock()
		return nil
	}
	delete(c.waiters, tag)
	phoneDisarmed := false
	if pr.requiresPhone {
		c.phone--
		phoneDisarmed = c.phone == 0
	}
	c.mu.Unlock()

	if pr.deadline != nil {
		pr.deadline.Stop()
	}
	if phoneDisarmed && c.onPhoneWaiters != nil {
		c.onPhoneWaiters(false)
	}
	return pr
}
