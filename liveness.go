package waweb

import "time"

// setPhoneProbe starts or stops the phone-probe loop. The correlator calls
// it whenever the count of phone-dependent waiters moves between zero and
// nonzero.
func (c *Conn) setPhoneProbe(active bool) {
	c.mu.Lock()
	if active {
		if c.probeStop != nil {
			c.mu.Unlock()
			return
		}
		stop := make(chan struct{})
		c.probeStop = stop
		c.mu.Unlock()
		go c.phoneProbeLoop(stop)
		return
	}
	stop := c.probeStop
	c.probeStop = nil
	c.probeTag = ""
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (c *Conn) phoneProbeLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PhoneResponse)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.firePhoneProbe()
		}
	}
}

// firePhoneProbe sends one admin test frame and optimistically reports the
// phone as unreachable until the reply arrives.
func (c *Conn) firePhoneProbe() {
	if c.State() != StateOpen {
		return
	}
	tag := c.currentTagger().Next(false)
	c.mu.Lock()
	c.probeTag = tag
	c.mu.Unlock()

	if err := c.sendJSONWithTag(tag, []any{"admin", "test"}); err != nil {
		c.log.Debugf("phone probe not sent: %v", err)
		return
	}

	c.mu.Lock()
	c.phoneConnected = false
	c.mu.Unlock()
	c.bus.Publish(TopicPhoneChange, PhoneChangeEvent{Connected: false})
}

// isProbeReply consumes the outstanding probe tag when it matches.
func (c *Conn) isProbeReply(tag string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tag == "" || tag != c.probeTag {
		return false
	}
	c.probeTag = ""
	return true
}

func (c *Conn) markPhoneConnected() {
	c.mu.Lock()
	changed := !c.phoneConnected
	c.phoneConnected = true
	c.mu.Unlock()
	if changed {
		c.bus.Publish(TopicPhoneChange, PhoneChangeEvent{Connected: true})
	}
}

// armIdleTimeout (re)arms the idle-debounce timer. On expiry the connection
// is treated as timed out and the close machinery runs.
func (c *Conn) armIdleTimeout() {
	c.mu.Lock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	gen := c.gen
	c.idleTimer = time.AfterFunc(c.opts.MaxIdle, func() { c.idleExpired(gen) })
	c.mu.Unlock()
}

func (c *Conn) idleExpired(gen int) {
	c.mu.Lock()
	stale := gen != c.gen || c.state != StateOpen
	c.mu.Unlock()
	if stale {
		return
	}
	c.log.Warnf("idle timeout after %s", c.opts.MaxIdle)
	c.unexpectedDisconnect(ReasonTimedOut)
}
