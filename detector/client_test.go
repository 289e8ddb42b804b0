package detector

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Erick14-l/RCS-AutoTest/cmdlist"
	"github.com/Erick14-l/RCS-AutoTest/internal/simdevice"
	"github.com/Erick14-l/RCS-AutoTest/logger"
	"github.com/Erick14-l/RCS-AutoTest/transcript"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

const statusCmd = "get_img_handle_status"

type testClient struct {
	t       *testing.T
	require *require.Assertions
	client  *Client
	sink    *transcript.Buffer
	device  *simdevice.Server
	runErr  chan error
}

func fastOptions(sink transcript.Sink) []ConnOption {
	return []ConnOption{
		WithTranscript(sink),
		WithConnectTimeout(200 * time.Millisecond),
		WithReconnectInterval(50 * time.Millisecond),
		WithSettleDelay(10 * time.Millisecond),
		WithReplyWait(100 * time.Millisecond),
		WithCommandInterval(30 * time.Millisecond),
		WithGatePollInterval(10 * time.Millisecond),
		WithPollInterval(5 * time.Millisecond),
		WithIdleTimeout(40 * time.Millisecond),
		WithWideIdleTimeout(40 * time.Millisecond),
		WithWideSettle(10 * time.Millisecond),
		WithSupplementaryInterval(10 * time.Millisecond),
	}
}

func newTestClient(t *testing.T, devOpts []simdevice.Option, opts ...ConnOption) *testClient {
	t.Helper()

	dev, err := simdevice.Start("127.0.0.1:0", devOpts...)
	require.NoError(t, err)

	tc := newTestClientAt(t, dev.Host(), dev.Port(), opts...)
	tc.device = dev
	t.Cleanup(func() { _ = dev.Close() })

	return tc
}

func newTestClientAt(t *testing.T, host string, port int, opts ...ConnOption) *testClient {
	t.Helper()

	sink := &transcript.Buffer{}
	cfg, err := NewConnectionConfig(host, port, append(fastOptions(sink), opts...)...)
	require.NoError(t, err)

	c, err := NewClient(cfg)
	require.NoError(t, err)

	tc := &testClient{
		t:       t,
		require: require.New(t),
		client:  c,
		sink:    sink,
		runErr:  make(chan error, 1),
	}

	go func() { tc.runErr <- c.Run(context.Background()) }()
	t.Cleanup(tc.stop)

	return tc
}

func (tc *testClient) stop() {
	tc.client.Stop()

	select {
	case err := <-tc.runErr:
		tc.runErr <- err
	case <-time.After(3 * time.Second):
		tc.t.Error("client did not stop")
	}
}

func (tc *testClient) waitReceived(n int) {
	tc.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tc.require.True(tc.device.WaitReceived(ctx, n), "received %v", tc.device.Received())
}

func TestClient_SingleTraversal(t *testing.T) {
	tc := newTestClient(t, nil, WithCommands("detector_init", "detector_config_das", "detector_start"))
	require := tc.require

	tc.waitReceived(3)
	require.Eventually(func() bool {
		return tc.sink.Count(transcript.PhraseCycleDone) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// one traversal per connection
	time.Sleep(300 * time.Millisecond)
	require.Equal([]string{"detector_init", "detector_config_das", "detector_start"}, tc.device.Received())

	require.Equal(1, tc.sink.Count(transcript.PhraseConnected))
	require.Equal(1, tc.sink.Count(transcript.Reloaded(3)))
	require.Equal(3, tc.sink.Count(transcript.PhraseSend))
	require.Equal(3, tc.sink.Count(transcript.PhraseRecv))
	require.Equal(1, tc.sink.Count("接收: detector_start"))

	m := tc.client.GetMetrics()
	require.Equal(uint64(1), m.ConnectCount.Load())
	require.Equal(uint64(3), m.CommandSendCount.Load())
	require.Equal(uint64(1), m.CycleCount.Load())
	require.Equal(int64(1), m.CommandSends("detector_config_das"))
	require.Equal(map[string]int64{"detector_init": 1, "detector_config_das": 1, "detector_start": 1}, m.SendCounts())

	require.True(tc.client.State().Connected())
	require.Equal(0, tc.client.State().Cursor())
}

func TestClient_RunTwice(t *testing.T) {
	tc := newTestClient(t, nil, WithCommands("a"))

	tc.require.Eventually(tc.client.IsRunning, time.Second, 5*time.Millisecond)
	tc.require.ErrorIs(tc.client.Run(context.Background()), ErrAlreadyRunning)
}

func TestClient_ReconnectResetsCursorAndReloads(t *testing.T) {
	var loads atomic.Int32
	src := WithCommandSource(func() (cmdlist.List, error) {
		loads.Add(1)
		return cmdlist.List{Commands: []string{"a", "b", "c"}, Parsed: 3}, nil
	})

	tc := newTestClient(t, nil, src)
	require := tc.require

	// first connection: drop after the second command
	tc.waitReceived(2)
	tc.device.DropConnections()

	// second connection: starts over at the first command, dropped again after two commands
	tc.waitReceived(4)
	tc.device.DropConnections()

	// third connection runs the whole list
	tc.waitReceived(7)
	require.Equal([]string{"a", "b", "a", "b", "a", "b", "c"}, tc.device.Received()[:7])

	require.Equal(3, tc.device.Accepted())
	require.Equal(int32(3), loads.Load())
	require.Equal(uint64(3), tc.client.State().Generation())
	require.Equal(3, tc.sink.Count(transcript.PhraseConnected))
	require.Equal(3, tc.sink.Count(transcript.Reloaded(3)))
	require.Equal(2, tc.sink.Count(transcript.PhraseConnError))
}

func TestClient_ErrorFieldSuspendsUntilCleared(t *testing.T) {
	devOpts := []simdevice.Option{
		simdevice.WithReply(statusCmd, simdevice.Echo(statusCmd, "recv:12", "recv error:3", "sample error:0", "angle error:0")),
	}
	tc := newTestClient(t, devOpts, WithCommands(statusCmd, "detector_init", "detector_start"))
	require := tc.require

	tc.waitReceived(1)
	require.Eventually(tc.client.State().Blocked, time.Second, 5*time.Millisecond)

	time.Sleep(400 * time.Millisecond)
	require.Equal([]string{statusCmd}, tc.device.Received())
	require.Equal(uint32(1), tc.client.GetMetrics().BlockedGauge.Load())
	require.GreaterOrEqual(tc.sink.Count(transcript.PhraseErrorPresent), 1)

	// the device reports the field back at zero
	tc.device.Push(statusCmd + "\nrecv error:0\n")

	tc.waitReceived(3)
	require.Equal([]string{statusCmd, "detector_init", "detector_start"}, tc.device.Received())
	require.False(tc.client.State().Blocked())
	require.Equal(uint32(0), tc.client.GetMetrics().BlockedGauge.Load())
}

func TestClient_ClearQuiescence(t *testing.T) {
	devOpts := []simdevice.Option{
		simdevice.WithReply(statusCmd, simdevice.Echo(statusCmd, "angle error:1")),
	}
	tc := newTestClient(t, devOpts, WithCommands(statusCmd, "detector_init"))
	require := tc.require

	tc.waitReceived(1)
	require.Eventually(tc.client.State().Blocked, time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	require.Len(tc.device.Received(), 1)

	tc.client.ClearQuiescence()

	tc.waitReceived(2)
	require.Equal([]string{statusCmd, "detector_init"}, tc.device.Received())
}

func TestClient_ZeroRecvDoesNotSuspend(t *testing.T) {
	devOpts := []simdevice.Option{
		simdevice.WithReply(statusCmd, simdevice.Echo(statusCmd, "recv:0", "recv error:0", "sample error:0", "angle error:0")),
	}
	tc := newTestClient(t, devOpts, WithCommands(statusCmd, "detector_init", "detector_start"))
	require := tc.require

	tc.waitReceived(3)
	require.Equal([]string{statusCmd, "detector_init", "detector_start"}, tc.device.Received())
	require.GreaterOrEqual(tc.sink.Count(transcript.PhraseNoData), 1)
	require.Zero(tc.sink.Count(transcript.PhraseErrorPresent))

	q := tc.client.State().Quiescence()
	require.True(q.DataStarved)
	require.False(q.ErrorPresent)
}

func TestClient_StarvationGating(t *testing.T) {
	devOpts := []simdevice.Option{
		simdevice.WithReply(statusCmd, simdevice.Echo(statusCmd, "recv:0")),
	}
	tc := newTestClient(t, devOpts, WithCommands(statusCmd, "detector_init"), WithStarvationGating(true))
	require := tc.require

	tc.waitReceived(1)
	require.Eventually(tc.client.State().Blocked, time.Second, 5*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	require.Len(tc.device.Received(), 1)
}

func TestClient_QuiescencePersistsAcrossReconnect(t *testing.T) {
	devOpts := []simdevice.Option{
		simdevice.WithReply(statusCmd, simdevice.Echo(statusCmd, "sample error:2")),
	}
	tc := newTestClient(t, devOpts, WithCommands(statusCmd, "detector_init"))
	require := tc.require

	tc.waitReceived(1)
	require.Eventually(tc.client.State().Blocked, time.Second, 5*time.Millisecond)

	tc.device.DropConnections()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.True(tc.device.WaitAccepted(ctx, 2))

	time.Sleep(300 * time.Millisecond)
	require.True(tc.client.State().Blocked())
	require.Equal([]string{statusCmd}, tc.device.Received())
}

func TestClient_DialRefusedWrapsSentinel(t *testing.T) {
	require := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(ln.Close())

	cfg, err := NewConnectionConfig("127.0.0.1", port, WithConnectTimeout(200*time.Millisecond))
	require.NoError(err)
	c, err := NewClient(cfg)
	require.NoError(err)

	conn, err := c.dial(context.Background())
	require.Nil(conn)
	require.ErrorIs(err, ErrConnRefused)
	require.ErrorIs(err, syscall.ECONNREFUSED)
}

func TestClient_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	tc := newTestClientAt(t, "127.0.0.1", port, WithCommands("a"))
	require := tc.require

	require.Eventually(func() bool {
		return tc.sink.Count("连接被拒绝") >= 2
	}, 2*time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(tc.client.GetMetrics().ConnRetryGauge.Load(), uint32(2))
	require.Zero(tc.sink.Count(transcript.PhraseConnected))
	require.False(tc.client.State().Connected())

	tc.client.Stop()
	select {
	case err := <-tc.runErr:
		require.NoError(err)
		tc.runErr <- err
	case <-time.After(time.Second):
		require.FailNow("client did not stop")
	}
}

func TestClient_LoadFailureKeepsConnection(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "sscom51.ini")
	tc := newTestClient(t, nil, WithCommandFile(missing))
	require := tc.require

	require.Eventually(func() bool {
		return tc.sink.Count(transcript.PhraseLoadFailed) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(1, tc.sink.Count(transcript.Reloaded(0)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.True(tc.device.WaitAccepted(ctx, 1))

	tc.device.Push("detector_state\nidle\n")
	require.Eventually(func() bool {
		return tc.sink.Count("接收: detector_state") == 1
	}, time.Second, 5*time.Millisecond)

	require.Empty(tc.device.Received())
	require.Empty(tc.client.Commands())
	require.True(tc.client.State().Connected())
}

func TestClient_CommandFilePinsCriticalCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sscom51.ini")
	require.NoError(t, os.WriteFile(path, []byte("N1=A,detector_start,start\r\n"), 0o600))

	tc := newTestClient(t, nil, WithCommandFile(path))
	require := tc.require

	tc.waitReceived(2)
	require.Equal(cmdlist.CriticalCommands(), tc.client.Commands())
	require.Equal([]string{"detector_init", "detector_set_das_count"}, tc.device.Received()[:2])
	require.Equal(7, tc.sink.Count(transcript.PhraseCommandAdded))
	require.Equal(1, tc.sink.Count(transcript.ListResized(1, 8)))
}

func TestClient_StopUnblocksRun(t *testing.T) {
	tc := newTestClient(t, nil, WithCommands("a", "b", "c"), WithReplyWait(10*time.Second))
	require := tc.require

	tc.waitReceived(1)

	begin := time.Now()
	tc.client.Stop()
	select {
	case err := <-tc.runErr:
		require.NoError(err)
		tc.runErr <- err
	case <-time.After(time.Second):
		require.FailNow("client did not stop")
	}
	require.Less(time.Since(begin), time.Second)
	require.False(tc.client.IsRunning())
	require.False(tc.client.State().Connected())
	require.Zero(tc.sink.Count(transcript.PhraseRecvError))
}

func TestClient_ContextCancel(t *testing.T) {
	dev, err := simdevice.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer dev.Close()

	cfg, err := NewConnectionConfig(dev.Host(), dev.Port(), append(fastOptions(transcript.Discard), WithCommands("a"))...)
	require.NoError(t, err)
	c, err := NewClient(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = c.Run(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.False(t, c.IsRunning())
}

func TestNewClient_NilConfig(t *testing.T) {
	_, err := NewClient(nil)
	require.ErrorIs(t, err, ErrConnConfigNil)
}
