package waweb

import (
	"context"
	"time"

	"github.com/waforge/waweb/pkg/logger"
)

// ReconnectMode controls whether the engine schedules a fresh Connect after
// an unexpected disconnect.
type ReconnectMode int

const (
	// ReconnectOff never schedules a reconnect.
	ReconnectOff ReconnectMode = iota
	// ReconnectOnConnectionLost reconnects on transport failures but not
	// when the session was replaced or invalidated.
	ReconnectOnConnectionLost
	// ReconnectOnAllErrors reconnects on everything except an invalidated
	// session.
	ReconnectOnAllErrors
)

// Default endpoints and timings. All configuration is explicit; nothing is
// read from the environment.
const (
	DefaultEndpoint = "wss://web.whatsapp.com/ws"
	DefaultOrigin   = "https://web.whatsapp.com"

	DefaultMaxIdle         = 60 * time.Second
	DefaultConnectCooldown = 4 * time.Second
	DefaultPhoneResponse   = 15 * time.Second
	DefaultQueryTimeout    = 20 * time.Second
)

// Options configures a Conn. The zero value plus withDefaults is a working
// production configuration; every field can be overridden per connection.
type Options struct {
	// Endpoint is the WebSocket URL to dial.
	Endpoint string
	// Origin is sent as the Origin header on the upgrade request.
	Origin string

	// Logger receives engine logs. Defaults to a no-op logger.
	Logger logger.Logger

	// AutoReconnect selects the reconnect policy.
	AutoReconnect ReconnectMode
	// MaxRetries bounds consecutive reconnect attempts; 0 means unlimited.
	MaxRetries int
	// ConnectCooldown is the delay before a scheduled reconnect.
	ConnectCooldown time.Duration

	// MaxIdle is the idle-debounce window armed by queries that request
	// it; on expiry the connection is treated as timed out.
	MaxIdle time.Duration
	// PhoneResponse is the phone-probe interval used while any pending
	// request requires the phone to be reachable.
	PhoneResponse time.Duration

	// QueryTimeout is the default per-request deadline. Individual
	// queries may override it.
	QueryTimeout time.Duration
	// PendingRequestTimeout bounds WaitForConnection: nil waits forever,
	// a non-positive value fails immediately with a 428 close error, a
	// positive value fails after that duration.
	PendingRequestTimeout *time.Duration

	// AlwaysUseTakeover asks the handshake to take the session over from
	// another connected client.
	AlwaysUseTakeover bool

	// MaxCachedMessages bounds the in-memory message log; 0 disables it.
	MaxCachedMessages int

	// Handshake runs after the socket opens and before the connection is
	// reported open. It is owned by the pairing stage; nil skips it.
	Handshake func(ctx context.Context, c *Conn) error
}

// Duration returns d as a PendingRequestTimeout value.
func Duration(d time.Duration) *time.Duration { return &d }

func (o Options) withDefaults() Options {
	if o.Endpoint == "" {
		o.Endpoint = DefaultEndpoint
	}
	if o.Origin == "" {
		o.Origin = DefaultOrigin
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	if o.ConnectCooldown <= 0 {
		o.ConnectCooldown = DefaultConnectCooldown
	}
	if o.MaxIdle <= 0 {
		o.MaxIdle = DefaultMaxIdle
	}
	if o.PhoneResponse <= 0 {
		o.PhoneResponse = DefaultPhoneResponse
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	return o
}
