package waweb

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeSocket is an in-memory socket implementation. Frames written by the
// engine are recorded; inbound frames are injected through a channel.
type fakeSocket struct {
	mu        sync.Mutex
	sent      [][]byte
	writeHook func(frame []byte)

	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-s.inbound:
		return websocket.TextMessage, msg, nil
	case <-s.closed:
		return 0, nil, errors.New("fake socket closed")
	}
}

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	select {
	case <-s.closed:
		return errors.New("fake socket closed")
	default:
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	s.mu.Lock()
	s.sent = append(s.sent, frame)
	hook := s.writeHook
	s.mu.Unlock()
	if hook != nil {
		hook(frame)
	}
	return nil
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) inject(frame string) {
	s.inbound <- []byte(frame)
}

func (s *fakeSocket) frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// waitFrame blocks until the socket has at least n+1 recorded frames and
// returns frame n.
func (s *fakeSocket) waitFrame(t *testing.T, n int) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frames := s.frames(); len(frames) > n {
			return frames[n]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("frame %d was never sent", n)
	return nil
}

// fakeDialer hands out one fakeSocket per dial.
type fakeDialer struct {
	mu      sync.Mutex
	sockets []*fakeSocket
	fail    error
}

func (d *fakeDialer) dial(_ context.Context, _ string, _ http.Header) (socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	s := newFakeSocket()
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}

func (d *fakeDialer) socket(n int) *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n >= len(d.sockets) {
		return nil
	}
	return d.sockets[n]
}

// waitSocket blocks until dial n has happened.
func (d *fakeDialer) waitSocket(t *testing.T, n int) *fakeSocket {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := d.socket(n); s != nil {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("socket %d was never dialed", n)
	return nil
}

func newTestConn(t *testing.T, opts Options) (*Conn, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{}
	c := New(opts)
	c.dial = d.dial
	t.Cleanup(func() { _ = c.Close() })
	return c, d
}

func mustConnect(t *testing.T, c *Conn) {
	t.Helper()
	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, StateOpen, c.State())
}

func TestConnectEmitsOpen(t *testing.T) {
	t.Parallel()

	c, d := newTestConn(t, Options{})
	opened := make(chan struct{}, 1)
	c.Events().Subscribe(TopicOpen, func(any) { opened <- struct{}{} })

	mustConnect(t, c)
	require.Equal(t, 1, d.count())

	select {
	case <-opened:
	default:
		t.Fatal("open event not published")
	}
}

func TestConnectDialFailureEmitsClose(t *testing.T) {
	t.Parallel()

	c, d := newTestConn(t, Options{AutoReconnect: ReconnectOff})
	d.fail = errors.New("connection refused")

	events := make(chan CloseEvent, 1)
	c.Events().Subscribe(TopicClose, func(data any) { events <- data.(CloseEvent) })

	err := c.Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, StateClosed, c.State())

	select {
	case evt := <-events:
		require.Equal(t, ReasonClose, evt.Reason)
		require.False(t, evt.IsReconnecting)
	default:
		t.Fatal("close event not published")
	}
}

func TestConnectTwiceFails(t *testing.T) {
	t.Parallel()

	c, _ := newTestConn(t, Options{})
	mustConnect(t, c)
	require.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)
}

func TestCloseRejectsWaitersAndClearsRegistry(t *testing.T) {
	t.Parallel()

	c, d := newTestConn(t, Options{})
	mustConnect(t, c)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Query(context.Background(), QuerySpec{JSON: []any{"admin", "test"}})
		errCh <- err
	}()
	d.socket(0).waitFrame(t, 0)

	var closeEvt CloseEvent
	c.Events().Subscribe(TopicClose, func(data any) { closeEvt = data.(CloseEvent) })

	require.NoError(t, c.Close())

	err := <-errCh
	require.ErrorIs(t, err, ErrIntentional)
	require.Equal(t, 0, c.corr.pending())
	require.Equal(t, StateClosed, c.State())
	require.Equal(t, ReasonIntentional, closeEvt.Reason)
	require.False(t, closeEvt.IsReconnecting)
}

func TestSocketCloseWithReconnectOffStaysDown(t *testing.T) {
	t.Parallel()

	c, d := newTestConn(t, Options{AutoReconnect: ReconnectOff, ConnectCooldown: 10 * time.Millisecond})
	mustConnect(t, c)

	d.socket(0).Close()
	require.Eventually(t, func() bool { return c.State() == StateClosed }, time.Second, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, d.count())
}

func TestSocketCloseWithReconnectReopens(t *testing.T) {
	t.Parallel()

	c, d := newTestConn(t, Options{AutoReconnect: ReconnectOnAllErrors, ConnectCooldown: 5 * time.Millisecond})
	mustConnect(t, c)

	d.socket(0).Close()
	require.Eventually(t, func() bool { return c.State() == StateOpen && d.count() == 2 },
		time.Second, time.Millisecond)
}

func TestInvalidSessionNeverReconnectsAndClearsAuth(t *testing.T) {
	t.Parallel()

	c, d := newTestConn(t, Options{AutoReconnect: ReconnectOnAllErrors, ConnectCooldown: 5 * time.Millisecond})
	c.LoadAuthInfo(&AuthInfo{ClientID: "abc", EncKey: make([]byte, 32), MacKey: make([]byte, 32)})
	mustConnect(t, c)

	c.unexpectedDisconnect(ReasonInvalidSession)

	require.Equal(t, StateClosed, c.State())
	require.Nil(t, c.AuthInfo())
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 1, d.count())
}

func TestReplacedRespectsReconnectMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		mode          ReconnectMode
		wantReconnect bool
	}{
		{name: "onConnectionLost", mode: ReconnectOnConnectionLost, wantReconnect: false},
		{name: "onAllErrors", mode: ReconnectOnAllErrors, wantReconnect: true},
		{name: "off", mode: ReconnectOff, wantReconnect: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, d := newTestConn(t, Options{AutoReconnect: tt.mode, ConnectCooldown: 5 * time.Millisecond})
			mustConnect(t, c)

			c.unexpectedDisconnect(ReasonReplaced)
			if tt.wantReconnect {
				require.Eventually(t, func() bool { return d.count() == 2 }, time.Second, time.Millisecond)
			} else {
				time.Sleep(30 * time.Millisecond)
				require.Equal(t, 1, d.count())
			}
		})
	}
}

func TestWaitForConnectionImmediateFailOnZeroTimeout(t *testing.T) {
	t.Parallel()

	c, _ := newTestConn(t, Options{PendingRequestTimeout: Duration(0)})
	err := c.WaitForConnection(context.Background())

	var closeErr *CloseError
	require.ErrorAs(t, err, &closeErr)
	require.Equal(t, 428, closeErr.Code)
}

func TestWaitForConnectionTimesOut(t *testing.T) {
	t.Parallel()

	c, _ := newTestConn(t, Options{PendingRequestTimeout: Duration(20 * time.Millisecond)})
	require.ErrorIs(t, c.WaitForConnection(context.Background()), ErrTimeout)
}

func TestWaitForConnectionResolvesOnOpen(t *testing.T) {
	t.Parallel()

	c, _ := newTestConn(t, Options{})
	errCh := make(chan error, 1)
	go func() { errCh <- c.WaitForConnection(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	mustConnect(t, c)
	require.NoError(t, <-errCh)
}

func TestLogoutSendsDisconnectAndClearsAuth(t *testing.T) {
	t.Parallel()

	c, d := newTestConn(t, Options{})
	c.LoadAuthInfo(&AuthInfo{ClientID: "abc"})
	mustConnect(t, c)

	require.NoError(t, c.Logout(context.Background()))

	frame := d.socket(0).waitFrame(t, 0)
	require.Equal(t, `goodbye,["admin","Conn","disconnect"]`, string(frame))
	require.Nil(t, c.AuthInfo())
	require.Equal(t, StateClosed, c.State())
}

func TestKeepAliveCanceledOnClose(t *testing.T) {
	t.Parallel()

	c, _ := newTestConn(t, Options{})
	mustConnect(t, c)

	canceled := make(chan struct{})
	c.RegisterKeepAlive(func() { close(canceled) })

	require.NoError(t, c.Close())
	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("keep-alive cancel not invoked")
	}
}
