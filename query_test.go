package waweb

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/waforge/waweb/binary"
	"github.com/waforge/waweb/crypto"
	"github.com/waforge/waweb/wire"
)

func frameTag(t *testing.T, frame []byte) string {
	t.Helper()
	i := bytes.IndexByte(frame, ',')
	require.GreaterOrEqual(t, i, 0, "frame has no tag separator")
	return string(frame[:i])
}

// respond waits for frame n written on s and replies to its tag with the
// given JSON body.
func respond(t *testing.T, s *fakeSocket, n int, body string) {
	t.Helper()
	tag := frameTag(t, s.waitFrame(t, n))
	s.inject(tag + "," + body)
}

func TestQueryRoundTrip(t *testing.T) {
	t.Parallel()

	c, d := newTestConn(t, Options{})
	mustConnect(t, c)

	go respond(t, d.socket(0), 0, `{"status":200}`)

	reply, err := c.Query(context.Background(), QuerySpec{JSON: []any{"admin", "test"}, Expect200: true})
	require.NoError(t, err)

	status, ok := reply.Status()
	require.True(t, ok)
	require.Equal(t, 200, status)

	// Exactly one frame went out, carrying the reply's tag, and the sent
	// counter moved by one.
	frames := d.socket(0).frames()
	require.Len(t, frames, 1)
	require.Equal(t, reply.Tag, frameTag(t, frames[0]))
	require.Equal(t, 1, c.currentTagger().Count())
}

func TestQueryRegisterBeforeSendRace(t *testing.T) {
	t.Parallel()

	c, d := newTestConn(t, Options{})
	mustConnect(t, c)

	// Deliver the reply while the send is still in flight: the waiter is
	// registered first, so it must resolve exactly once.
	s := d.socket(0)
	s.mu.Lock()
	s.writeHook = func(frame []byte) {
		s.inject("7.--0," + `{"status":200}`)
	}
	s.mu.Unlock()

	reply, err := c.Query(context.Background(), QuerySpec{JSON: []any{"admin", "test"}, Tag: "7.--0"})
	require.NoError(t, err)
	require.Equal(t, "7.--0", reply.Tag)

	status, ok := reply.Status()
	require.True(t, ok)
	require.Equal(t, 200, status)
}

func TestQueryBadSessionRetriesOnce(t *testing.T) {
	t.Parallel()

	c, d := newTestConn(t, Options{AutoReconnect: ReconnectOnAllErrors, ConnectCooldown: 5 * time.Millisecond})
	mustConnect(t, c)

	go func() {
		respond(t, d.socket(0), 0, `{"status":599}`)
		s := d.waitSocket(t, 1)
		respond(t, s, 0, `{"status":200,"jid":"1@c.us"}`)
	}()

	query := QuerySpec{JSON: []any{"query", "exist", "+1"}, Expect200: true}
	reply, err := c.Query(context.Background(), query)
	require.NoError(t, err)

	var body struct {
		JID string `json:"jid"`
	}
	require.NoError(t, json.Unmarshal(reply.JSON, &body))
	require.Equal(t, "1@c.us", body.JID)

	// Both sockets saw the same query payload.
	first := d.socket(0).frames()[0]
	second := d.socket(1).frames()[0]
	require.Equal(t, `["query","exist","+1"]`, string(first[bytes.IndexByte(first, ',')+1:]))
	require.Equal(t, `["query","exist","+1"]`, string(second[bytes.IndexByte(second, ',')+1:]))
}

func TestQuerySecondBadSessionSurfaces(t *testing.T) {
	t.Parallel()

	c, d := newTestConn(t, Options{AutoReconnect: ReconnectOnAllErrors, ConnectCooldown: 5 * time.Millisecond})
	mustConnect(t, c)

	go func() {
		respond(t, d.socket(0), 0, `{"status":599}`)
		s := d.waitSocket(t, 1)
		respond(t, s, 0, `{"status":599}`)
	}()

	_, err := c.Query(context.Background(), QuerySpec{JSON: []any{"query", "exist", "+1"}, Expect200: true})

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, 599, serverErr.Status)
}

func TestQueryServerErrorCarriesPayload(t *testing.T) {
	t.Parallel()

	c, d := newTestConn(t, Options{})
	mustConnect(t, c)

	go respond(t, d.socket(0), 0, `{"status":404}`)

	_, err := c.Query(context.Background(), QuerySpec{JSON: []any{"query", "exist", "+1"}, Expect200: true})

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, 404, serverErr.Status)
	require.Equal(t, "not found", serverErr.StatusText)
	require.JSONEq(t, `["query","exist","+1"]`, string(serverErr.Query))
}

func TestQueryTimeoutFailsOnlyThatWaiter(t *testing.T) {
	t.Parallel()

	c, d := newTestConn(t, Options{})
	mustConnect(t, c)

	_, err := c.Query(context.Background(), QuerySpec{JSON: []any{"admin", "test"}, Timeout: 20 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)

	// The socket stayed open.
	require.Equal(t, StateOpen, c.State())
	require.Equal(t, 0, c.corr.pending())
	require.Len(t, d.socket(0).frames(), 1)
}

func TestQueryDuplicateTag(t *testing.T) {
	t.Parallel()

	c, d := newTestConn(t, Options{})
	mustConnect(t, c)

	go func() {
		_, _ = c.Query(context.Background(), QuerySpec{JSON: []any{"admin", "test"}, Tag: "9.--9"})
	}()
	d.socket(0).waitFrame(t, 0)

	_, err := c.Query(context.Background(), QuerySpec{JSON: []any{"admin", "test"}, Tag: "9.--9"})
	require.ErrorIs(t, err, ErrDuplicateTag)
}

func TestUnclaimedReplyPublishedAsTagEvent(t *testing.T) {
	t.Parallel()

	c, d := newTestConn(t, Options{})
	mustConnect(t, c)

	got := make(chan *Reply, 1)
	c.Events().Subscribe(TagTopic("42.--7"), func(data any) { got <- data.(*Reply) })

	d.socket(0).inject(`42.--7,{"status":200}`)

	select {
	case reply := <-got:
		require.Equal(t, "42.--7", reply.Tag)
	case <-time.After(time.Second):
		t.Fatal("tag event not published")
	}
}

func TestSetQueryBinaryFrameLayout(t *testing.T) {
	t.Parallel()

	c, d := newTestConn(t, Options{})
	c.LoadAuthInfo(&AuthInfo{EncKey: make([]byte, 32), MacKey: make([]byte, 32)})
	mustConnect(t, c)

	go respond(t, d.socket(0), 0, `{"status":200}`)

	_, err := c.SetQuery(context.Background(), []binary.Node{{Tag: "block", Attrs: map[string]string{"type": "add"}}})
	require.NoError(t, err)

	frame := d.socket(0).frames()[0]
	payload := frame[bytes.IndexByte(frame, ',')+1:]

	// Metric group, flag ignore, then HMAC and CBC ciphertext.
	require.Equal(t, byte(0x05), payload[0])
	require.Equal(t, byte(0x00), payload[1])
	sealed := payload[2:]
	require.Greater(t, len(sealed), crypto.MACSize+crypto.IVSize)
	require.Equal(t, 0, (len(sealed)-crypto.MACSize)%16)

	// The epoch matches the sent counter at composition time.
	auth := c.AuthInfo()
	plain, err := crypto.Open(sealed, auth.EncKey, auth.MacKey)
	require.NoError(t, err)
	node, err := binary.Unmarshal(plain)
	require.NoError(t, err)
	require.Equal(t, "action", node.Tag)
	require.Equal(t, "set", node.Attrs["type"])
	require.Equal(t, "0", node.Attrs["epoch"])
	require.Len(t, node.Children(), 1)
	require.Equal(t, "block", node.Children()[0].Tag)
}

func TestBinaryQueryWithoutKeysFails(t *testing.T) {
	t.Parallel()

	c, _ := newTestConn(t, Options{})
	mustConnect(t, c)

	_, err := c.Query(context.Background(), QuerySpec{
		JSON:   []any{"action", map[string]string{}, nil},
		Binary: &wire.BinaryTags{Metric: wire.MetricGroup, Flag: wire.FlagIgnore},
	})
	require.ErrorIs(t, err, ErrMissingKeys)
	require.Equal(t, 0, c.corr.pending())
}
