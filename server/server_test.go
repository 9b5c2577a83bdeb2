package server

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sahib/ftserve/client"
	"github.com/sahib/ftserve/dataconn"
	"github.com/sahib/ftserve/defaults"
	"github.com/sahib/ftserve/request"
	"github.com/sahib/ftserve/response"
	"github.com/sahib/ftserve/util/testutil"
	"github.com/stretchr/testify/require"
)

func withServer(t *testing.T, files map[string][]byte, extraCfg string, fn func(cl *client.Client, sessions <-chan *Session)) {
	dir := testutil.ServeDir(t, files)

	cfgData := fmt.Sprintf(`server:
  root: %s
  bind: 127.0.0.1
  dispatch_delay: 0s
  read_timeout: 2s
%s`, strconv.Quote(dir), extraCfg)

	cfg, err := defaults.DecodeConfig(bytes.NewReader([]byte(cfgData)))
	require.Nil(t, err)

	sv, err := BootServer(context.Background(), cfg, 0, false)
	require.Nil(t, err)

	sessions := make(chan *Session, 100)
	sv.hdl.onSession = func(ss *Session) {
		sessions <- ss
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- sv.Serve()
	}()

	cl := &client.Client{
		Host:          "127.0.0.1",
		ControlPort:   sv.Addr().(*net.TCPAddr).Port,
		DataHost:      "127.0.0.1",
		AcceptTimeout: 5 * time.Second,
	}

	fn(cl, sessions)

	sv.Quit()
	select {
	case err := <-errCh:
		require.Nil(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not quit")
	}
}

func nextSession(t *testing.T, sessions <-chan *Session) *Session {
	select {
	case ss := <-sessions:
		return ss
	case <-time.After(5 * time.Second):
		t.Fatalf("no session finished in time")
		return nil
	}
}

func TestServerGet(t *testing.T) {
	data := testutil.CreateDummyBuf(3*1024*1024 + 7)
	withServer(t, map[string][]byte{"blob.bin": data}, "", func(cl *client.Client, sessions <-chan *Session) {
		got, err := cl.Get(context.Background(), "blob.bin")
		require.Nil(t, err)
		require.Equal(t, data, got)

		ss := nextSession(t, sessions)
		require.Equal(t, "127.0.0.1", ss.PeerHost)
		require.Equal(t, []ConnState{AwaitRequest, Validating, Dispatching, AckSent, ConnClosed}, ss.History())
		require.Equal(t, response.KindFile, ss.Payload.Kind)
		require.Equal(t, dataconn.Closed, ss.Transfer.State())
		require.Equal(t, 4+len(data), ss.Transfer.Written)
	})
}

func TestServerGetNotFound(t *testing.T) {
	withServer(t, nil, "", func(cl *client.Client, sessions <-chan *Session) {
		res, err := cl.Do(context.Background(), request.Get, "missing.txt")
		require.Nil(t, err)
		require.Equal(t, AckDone, res.Ack)
		require.Equal(t, response.NotFound, string(res.Body))

		ss := nextSession(t, sessions)
		require.Equal(t, response.KindNotFound, ss.Payload.Kind)
		require.Equal(t, 18, ss.Transfer.Written)

		_, err = cl.Get(context.Background(), "missing.txt")
		require.Equal(t, client.ErrFileNotFound, err)
	})
}

func TestServerList(t *testing.T) {
	files := map[string][]byte{"a": []byte("1"), "b": []byte("2")}
	withServer(t, files, "", func(cl *client.Client, sessions <-chan *Session) {
		names, err := cl.List(context.Background())
		require.Nil(t, err)

		sort.Strings(names)
		require.Equal(t, []string{"a", "b"}, names)

		ss := nextSession(t, sessions)
		require.Equal(t, uint32(3), ss.Payload.Len())
	})
}

func TestServerListEmpty(t *testing.T) {
	withServer(t, nil, "", func(cl *client.Client, sessions <-chan *Session) {
		names, err := cl.List(context.Background())
		require.Nil(t, err)
		require.Len(t, names, 0)

		ss := nextSession(t, sessions)
		require.Equal(t, 4, ss.Transfer.Written)
	})
}

func TestServerRejects(t *testing.T) {
	withServer(t, nil, "", func(cl *client.Client, sessions <-chan *Session) {
		for _, msg := range []string{"-x foo 123", "-l abc", "-g 1234", "-l a 1234", "hello"} {
			ack, err := cl.Raw(context.Background(), msg)
			require.Nil(t, err)
			require.Equal(t, AckInvalid, ack)

			ss := nextSession(t, sessions)
			require.Equal(t, msg, ss.Message)
			require.Equal(t, []ConnState{AwaitRequest, Validating, Rejected, AckSent, ConnClosed}, ss.History())

			// No data connection was attempted:
			require.Nil(t, ss.Request)
			require.Nil(t, ss.Transfer)
		}
	})
}

func TestServerDataConnectionFails(t *testing.T) {
	lst, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	deadPort := lst.Addr().(*net.TCPAddr).Port
	require.Nil(t, lst.Close())

	withServer(t, nil, "", func(cl *client.Client, sessions <-chan *Session) {
		// The server still reports completion.
		ack, err := cl.Raw(context.Background(), fmt.Sprintf("-l %d", deadPort))
		require.Nil(t, err)
		require.Equal(t, AckDone, ack)

		ss := nextSession(t, sessions)
		require.Equal(t, dataconn.Failed, ss.Transfer.State())
		require.Equal(t, ConnClosed, ss.State())
	})
}

func TestServerPeerLimit(t *testing.T) {
	extra := "  peer_requests_per_hour: 2\n"
	withServer(t, nil, extra, func(cl *client.Client, sessions <-chan *Session) {
		for i := 0; i < 2; i++ {
			_, err := cl.List(context.Background())
			require.Nil(t, err)
		}

		_, err := cl.List(context.Background())
		require.True(t, client.IsRejected(err))
	})
}

func TestServerConcurrent(t *testing.T) {
	files := map[string][]byte{}
	for i := 0; i < 8; i++ {
		files[fmt.Sprintf("file-%d", i)] = testutil.CreateDummyBuf(int64(i) * 4096)
	}

	withServer(t, files, "", func(cl *client.Client, sessions <-chan *Session) {
		wg := &sync.WaitGroup{}
		errs := make(chan error, len(files))

		for name, data := range files {
			wg.Add(1)
			go func(name string, data []byte) {
				defer wg.Done()

				got, err := cl.Get(context.Background(), name)
				if err == nil && !bytes.Equal(got, data) {
					err = fmt.Errorf("content of %s differs", name)
				}

				errs <- err
			}(name, data)
		}

		wg.Wait()
		close(errs)

		for err := range errs {
			require.Nil(t, err)
		}
	})
}

func TestServerQuitWithIdlePeer(t *testing.T) {
	dir := testutil.ServeDir(t, nil)
	cfgData := fmt.Sprintf("server:\n  root: %s\n  bind: 127.0.0.1\n  read_timeout: 30s\n", strconv.Quote(dir))
	cfg, err := defaults.DecodeConfig(bytes.NewReader([]byte(cfgData)))
	require.Nil(t, err)

	sv, err := BootServer(context.Background(), cfg, 0, false)
	require.Nil(t, err)

	sessions := make(chan *Session, 1)
	sv.hdl.onSession = func(ss *Session) {
		sessions <- ss
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- sv.Serve()
	}()

	// Connect, but never send a request:
	conn, err := net.Dial("tcp", sv.Addr().String())
	require.Nil(t, err)
	defer conn.Close()

	// Give the server time to start reading:
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	sv.Quit()

	select {
	case err := <-errCh:
		require.Nil(t, err)
		require.True(t, time.Since(start) < 5*time.Second)
	case <-time.After(5 * time.Second):
		t.Fatalf("server waited for the idle peer")
	}

	ss := nextSession(t, sessions)
	require.Equal(t, []ConnState{AwaitRequest, ConnClosed}, ss.History())
}

func TestBootServerBadRoot(t *testing.T) {
	cfg, err := defaults.DecodeConfig(bytes.NewReader([]byte("server:\n  root: /does/not/exist\n")))
	require.Nil(t, err)

	_, err = BootServer(context.Background(), cfg, 0, false)
	require.NotNil(t, err)
}

func TestConnStateString(t *testing.T) {
	require.Equal(t, "rejected", Rejected.String())
	require.Equal(t, "ack-sent", AckSent.String())
	require.Equal(t, "conn-state(99)", ConnState(99).String())
}
