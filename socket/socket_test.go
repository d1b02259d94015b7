//go:build unix

package socket_test

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/fluxd/fake"
	"github.com/momentics/fluxd/socket"
)

type recorder struct {
	connects int
	accepts  []*socket.ClientSocket
	data     [][]byte
	errs     []error
}

func (r *recorder) OnConnect(socket.Socket) { r.connects++ }

func (r *recorder) OnAccept(c *socket.ClientSocket) { r.accepts = append(r.accepts, c) }

func (r *recorder) OnData(_ socket.Socket, p []byte) {
	r.data = append(r.data, append([]byte(nil), p...))
}

func (r *recorder) OnError(_ socket.Socket, err error) { r.errs = append(r.errs, err) }

func newEngine(t *testing.T) (*socket.Engine, *fake.Poller) {
	t.Helper()
	e := socket.NewEngine()
	p := fake.NewPoller()
	require.NoError(t, e.SetPoller(p))
	t.Cleanup(func() { _ = e.Close() })
	return e, p
}

func listen(t *testing.T, e *socket.Engine, h socket.Handler) *socket.ListeningSocket {
	t.Helper()
	ls, err := socket.NewListeningSocket(context.Background(), e, socket.ListenConfig{
		Address: "127.0.0.1",
		Handler: h,
	})
	require.NoError(t, err)
	require.NotZero(t, ls.Addr().Port())
	return ls
}

func dial(t *testing.T, ls *socket.ListeningSocket) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", ls.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestFlagString(t *testing.T) {
	assert.Equal(t, "none", socket.Flag(0).String())
	assert.Equal(t, "dead|mx_readable", (socket.FlagDead | socket.FlagMXReadable).String())
	assert.True(t, (socket.FlagConnected | socket.FlagWritable).Has(socket.FlagConnected))
	assert.False(t, socket.FlagConnected.Has(socket.FlagConnected|socket.FlagWritable))
}

func TestStubEngineIsInert(t *testing.T) {
	e := socket.NewEngine()
	assert.False(t, e.HasPoller())

	start := time.Now()
	require.NoError(t, e.Multiplex(5*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	require.NoError(t, e.Close())
}

func TestListenerRegistersReadInterest(t *testing.T) {
	e, p := newEngine(t)
	ls := listen(t, e, nil)

	assert.Same(t, ls, e.FindSocket(ls.FD()))
	in, ok := p.Interest(ls.FD())
	require.True(t, ok)
	assert.Equal(t, socket.InterestRead, in)

	require.NoError(t, ls.Close())
	assert.Nil(t, e.FindSocket(ls.FD()))
	assert.Zero(t, p.Registered())
	assert.Zero(t, e.Len())
}

func TestAcceptedClientTransitionsOnce(t *testing.T) {
	e, p := newEngine(t)
	rec := &recorder{}
	ls := listen(t, e, rec)
	dial(t, ls)

	p.Ready(ls.FD(), socket.Readable)
	require.NoError(t, e.Multiplex(0))
	require.EqualValues(t, 1, ls.Accepted())
	require.Equal(t, 2, e.Len())

	var client *socket.ClientSocket
	for _, s := range e.Sockets() {
		if c, ok := s.(*socket.ClientSocket); ok {
			client = c
		}
	}
	require.NotNil(t, client)
	assert.True(t, client.Has(socket.FlagAccepting))
	assert.Same(t, ls, client.Listener())
	assert.Empty(t, rec.accepts)

	p.Ready(client.FD(), socket.Writable)
	require.NoError(t, e.Multiplex(0))
	assert.True(t, client.Has(socket.FlagAccepted))
	assert.False(t, client.Has(socket.FlagAccepting))
	require.Len(t, rec.accepts, 1)
	assert.Same(t, client, rec.accepts[0])

	p.Ready(client.FD(), socket.Writable)
	require.NoError(t, e.Multiplex(0))
	assert.Len(t, rec.accepts, 1)
	assert.False(t, client.Has(socket.FlagDead))
}

type panicky struct {
	recorder
	onAccept func()
}

func (p *panicky) OnAccept(c *socket.ClientSocket) {
	p.recorder.OnAccept(c)
	p.onAccept()
}

func TestCallbackPanicKillsOnlyItsSocket(t *testing.T) {
	e, p := newEngine(t)
	h := &panicky{onAccept: func() { panic("nil handler state") }}
	ls := listen(t, e, h)
	dial(t, ls)

	p.Ready(ls.FD(), socket.Readable)
	require.NoError(t, e.Multiplex(0))
	var client *socket.ClientSocket
	for _, s := range e.Sockets() {
		if c, ok := s.(*socket.ClientSocket); ok {
			client = c
		}
	}
	require.NotNil(t, client)
	fd := client.FD()

	p.Ready(fd, socket.Writable)
	assert.NotPanics(t, func() { _ = e.Multiplex(0) })
	assert.Len(t, h.accepts, 1)
	assert.True(t, client.Has(socket.FlagDead))
	assert.Nil(t, e.FindSocket(fd))

	// The listener keeps accepting.
	assert.Same(t, ls, e.FindSocket(ls.FD()))
	dial(t, ls)
	p.Ready(ls.FD(), socket.Readable)
	require.NoError(t, e.Multiplex(0))
	assert.EqualValues(t, 2, ls.Accepted())
}

func TestClientInUnknownStateDies(t *testing.T) {
	e, p := newEngine(t)
	rec := &recorder{}
	ls := listen(t, e, rec)
	dial(t, ls)

	p.Ready(ls.FD(), socket.Readable)
	require.NoError(t, e.Multiplex(0))
	var client socket.Socket
	for _, s := range e.Sockets() {
		if s != ls {
			client = s
		}
	}
	require.NotNil(t, client)
	client.ClearFlag(socket.FlagAccepting)

	socket.Dispatch(client, socket.Readable)
	assert.True(t, client.Has(socket.FlagDead))
	assert.Empty(t, rec.accepts)

	// dead sockets are never dispatched again
	socket.Dispatch(client, socket.Writable)
	assert.Empty(t, rec.accepts)
}

func TestAcceptFilterRejects(t *testing.T) {
	e, p := newEngine(t)
	var seen []netip.AddrPort
	e.SetAcceptFilter(func(peer netip.AddrPort) bool {
		seen = append(seen, peer)
		return false
	})
	ls := listen(t, e, nil)
	dial(t, ls)

	p.Ready(ls.FD(), socket.Readable)
	require.NoError(t, e.Multiplex(0))
	assert.Zero(t, ls.Accepted())
	assert.Equal(t, 1, e.Len())
	require.Len(t, seen, 1)
	assert.True(t, seen[0].Addr().IsLoopback())
}

func TestConnectDataPath(t *testing.T) {
	e, p := newEngine(t)
	srv := &recorder{}
	ls := listen(t, e, srv)

	cli := &recorder{}
	cs, err := socket.NewConnectionSocket(e, false, cli)
	require.NoError(t, err)
	require.NoError(t, cs.Connect("127.0.0.1", int(ls.Addr().Port())))

	if cs.Has(socket.FlagConnecting) {
		in, _ := p.Interest(cs.FD())
		assert.NotZero(t, in&socket.InterestWrite)
		p.Ready(cs.FD(), socket.Writable)
		require.NoError(t, e.Multiplex(0))
	}
	require.True(t, cs.Has(socket.FlagConnected))
	assert.Equal(t, 1, cli.connects)
	assert.Empty(t, cli.errs)

	p.Ready(ls.FD(), socket.Readable)
	require.NoError(t, e.Multiplex(0))
	var client *socket.ClientSocket
	for _, s := range e.Sockets() {
		if c, ok := s.(*socket.ClientSocket); ok {
			client = c
		}
	}
	require.NotNil(t, client)
	p.Ready(client.FD(), socket.Writable)
	require.NoError(t, e.Multiplex(0))
	require.Len(t, srv.accepts, 1)

	n, err := client.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Zero(t, client.Pending())

	require.Eventually(t, func() bool {
		p.Ready(cs.FD(), socket.Readable)
		_ = e.Multiplex(0)
		return len(cli.data) > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("ping"), cli.data[0])

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool {
		p.Ready(cs.FD(), socket.Readable)
		_ = e.Multiplex(0)
		return e.FindSocket(cs.FD()) == nil
	}, time.Second, 5*time.Millisecond)
	assert.True(t, cs.Has(socket.FlagDead))
}

func TestConnectAddressErrors(t *testing.T) {
	e, _ := newEngine(t)
	cs, err := socket.NewConnectionSocket(e, false, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, cs.Connect("not-an-ip", 80), socket.ErrAddress)
	assert.ErrorIs(t, cs.Connect("127.0.0.1", 70000), socket.ErrAddress)
	assert.ErrorIs(t, cs.Connect("::1", 80), socket.ErrFamily)
	assert.False(t, cs.Has(socket.FlagDead))
}

func TestConnectRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	e, p := newEngine(t)
	rec := &recorder{}
	cs, err := socket.NewConnectionSocket(e, false, rec)
	require.NoError(t, err)
	require.NoError(t, cs.Connect("127.0.0.1", port))

	if !cs.Has(socket.FlagDead) {
		p.Ready(cs.FD(), socket.Writable)
		require.NoError(t, e.Multiplex(0))
	}
	assert.True(t, cs.Has(socket.FlagDead))
	assert.False(t, cs.Has(socket.FlagConnected))
	assert.Zero(t, rec.connects)
	require.Len(t, rec.errs, 1)
}

func TestErroredReadinessKillsSocket(t *testing.T) {
	e, p := newEngine(t)
	rec := &recorder{}
	ls := listen(t, e, rec)

	p.Ready(ls.FD(), socket.Errored)
	require.NoError(t, e.Multiplex(0))
	assert.True(t, ls.Has(socket.FlagDead))
	assert.Len(t, rec.errs, 1)
	assert.Nil(t, e.FindSocket(ls.FD()))
}

func TestBindRetryIsBounded(t *testing.T) {
	e, _ := newEngine(t)
	ls := listen(t, e, nil)

	start := time.Now()
	_, err := socket.NewListeningSocket(context.Background(), e, socket.ListenConfig{
		Address:      "127.0.0.1",
		Port:         int(ls.Addr().Port()),
		BindAttempts: 3,
		BindBackoff:  time.Millisecond,
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, e.Len())
}

func TestBindPermanentFailureIsNotRetried(t *testing.T) {
	e, _ := newEngine(t)
	start := time.Now()
	_, err := socket.NewListeningSocket(context.Background(), e, socket.ListenConfig{
		Address:      "192.0.2.1",
		BindAttempts: 10,
		BindBackoff:  time.Second,
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBindRetryStopsOnContext(t *testing.T) {
	e, _ := newEngine(t)
	ls := listen(t, e, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := socket.NewListeningSocket(ctx, e, socket.ListenConfig{
		Address:      "127.0.0.1",
		Port:         int(ls.Addr().Port()),
		BindAttempts: 100,
		BindBackoff:  time.Second,
	})
	require.Error(t, err)
}

func TestAddSocketTwice(t *testing.T) {
	e, _ := newEngine(t)
	ls := listen(t, e, nil)
	err := e.AddSocket(ls)
	assert.True(t, errors.Is(err, socket.ErrRegistered))
}

func TestSetPollerReregisters(t *testing.T) {
	e := socket.NewEngine()
	t.Cleanup(func() { _ = e.Close() })
	ls := listen(t, e, nil)

	p := fake.NewPoller()
	require.NoError(t, e.SetPoller(p))
	assert.True(t, e.HasPoller())
	in, ok := p.Interest(ls.FD())
	require.True(t, ok)
	assert.Equal(t, socket.InterestRead, in)

	require.NoError(t, e.SetPoller(nil))
	assert.False(t, e.HasPoller())
	assert.True(t, p.Closed())
	assert.Same(t, ls, e.FindSocket(ls.FD()))
}
