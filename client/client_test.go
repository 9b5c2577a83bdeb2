package client

import (
	"context"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sahib/ftserve/request"
	"github.com/sahib/ftserve/util/protocol"
	"github.com/sahib/ftserve/util/testutil"
	"github.com/stretchr/testify/require"
)

// fakeServer answers every request with `body`, or with a rejection
// when the message does not parse.
func fakeServer(t *testing.T, body []byte, connectBack bool) (int, func()) {
	lst, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)

	go func() {
		for {
			conn, err := lst.Accept()
			if err != nil {
				return
			}

			buf := make([]byte, 255)
			n, _ := conn.Read(buf)
			req, err := request.Parse(string(buf[:n]))
			if err != nil {
				conn.Write([]byte("404&Invalid Command"))
				conn.Close()
				continue
			}

			if connectBack {
				addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(req.DataPort)))
				if data, err := net.Dial("tcp", addr); err == nil {
					protocol.NewProtocolWriter(data).Send(body)
					data.Close()
				}
			}

			conn.Write([]byte("All done"))
			conn.Close()
		}
	}()

	return lst.Addr().(*net.TCPAddr).Port, func() { lst.Close() }
}

func TestClientGet(t *testing.T) {
	data := testutil.CreateDummyBuf(1024 * 1024)
	port, stop := fakeServer(t, data, true)
	defer stop()

	cl := &Client{Host: "127.0.0.1", ControlPort: port, AcceptTimeout: 5 * time.Second}
	got, err := cl.Get(context.Background(), "some.file")
	require.Nil(t, err)
	require.Equal(t, data, got)
}

func TestClientGetNotFound(t *testing.T) {
	port, stop := fakeServer(t, []byte("FILE NOT FOUND"), true)
	defer stop()

	cl := &Client{Host: "127.0.0.1", ControlPort: port}
	_, err := cl.Get(context.Background(), "missing")
	require.Equal(t, ErrFileNotFound, err)
}

func TestClientList(t *testing.T) {
	port, stop := fakeServer(t, []byte("a\nb"), true)
	defer stop()

	cl := &Client{Host: "127.0.0.1", ControlPort: port}
	names, err := cl.List(context.Background())
	require.Nil(t, err)
	require.Equal(t, []string{"a", "b"}, names)
}

func TestClientListEmpty(t *testing.T) {
	port, stop := fakeServer(t, nil, true)
	defer stop()

	cl := &Client{Host: "127.0.0.1", ControlPort: port}
	names, err := cl.List(context.Background())
	require.Nil(t, err)
	require.Len(t, names, 0)
}

func TestClientRejected(t *testing.T) {
	port, stop := fakeServer(t, nil, true)
	defer stop()

	cl := &Client{Host: "127.0.0.1", ControlPort: port}
	ack, err := cl.Raw(context.Background(), "-x foo 123")
	require.Nil(t, err)
	require.Equal(t, "404&Invalid Command", ack)
}

func TestClientBadFilename(t *testing.T) {
	cl := &Client{Host: "127.0.0.1", ControlPort: 1}
	_, err := cl.Get(context.Background(), "with space")
	require.True(t, request.IsInvalid(err))
}

func TestClientNoDataConnection(t *testing.T) {
	port, stop := fakeServer(t, nil, false)
	defer stop()

	cl := &Client{Host: "127.0.0.1", ControlPort: port, AcceptTimeout: 100 * time.Millisecond}
	res, err := cl.Do(context.Background(), request.List, "")
	require.NotNil(t, err)
	require.Equal(t, "All done", res.Ack)
}

func TestClientBodyLimit(t *testing.T) {
	port, stop := fakeServer(t, testutil.CreateDummyBuf(100), true)
	defer stop()

	cl := &Client{Host: "127.0.0.1", ControlPort: port, MaxBodySize: 10}
	_, err := cl.Get(context.Background(), "big")
	require.IsType(t, protocol.ErrBodyTooBig{}, err)
}

func TestUniqueName(t *testing.T) {
	taken := map[string]bool{
		"a.txt":     true,
		"a2.txt":    true,
		"noext":     true,
		".bashrc":   true,
		"x.tar.gz":  true,
		"x2.tar.gz": true,
		"x3.tar.gz": true,
	}

	exists := func(name string) bool { return taken[name] }

	require.Equal(t, "free.txt", UniqueName("free.txt", exists))
	require.Equal(t, "a3.txt", UniqueName("a.txt", exists))
	require.Equal(t, "noext2", UniqueName("noext", exists))
	require.Equal(t, ".bashrc2", UniqueName(".bashrc", exists))
	require.Equal(t, "x4.tar.gz", UniqueName("x.tar.gz", exists))
}

func TestSaveUnique(t *testing.T) {
	dir := testutil.ServeDir(t, map[string][]byte{"a.txt": []byte("old")})

	path, err := SaveUnique(dir, "a.txt", []byte("new"))
	require.Nil(t, err)
	require.Equal(t, filepath.Join(dir, "a2.txt"), path)

	path, err = SaveUnique(dir, "sub/../../a.txt", []byte("newer"))
	require.Nil(t, err)
	require.Equal(t, filepath.Join(dir, "a3.txt"), path)

	old, err := ioutil.ReadFile(filepath.Join(dir, "a.txt"))
	require.Nil(t, err)
	require.Equal(t, "old", string(old))

	data, err := ioutil.ReadFile(path)
	require.Nil(t, err)
	require.Equal(t, "newer", string(data))

	_, err = SaveUnique(dir, "", nil)
	require.NotNil(t, err)

	_, err = os.Stat(filepath.Join(dir, "a4.txt"))
	require.True(t, os.IsNotExist(err))
}

// slowServer connects back and sends `body` one byte per `pause`.
// With `stallAfter` >= 0 it stops sending after that many body bytes.
func slowServer(t *testing.T, body []byte, pause time.Duration, stallAfter int) (int, func()) {
	lst, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)

	done := make(chan struct{})
	go func() {
		conn, err := lst.Accept()
		if err != nil {
			return
		}

		defer conn.Close()

		buf := make([]byte, 255)
		n, _ := conn.Read(buf)
		req, err := request.Parse(string(buf[:n]))
		if err != nil {
			return
		}

		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(req.DataPort)))
		data, err := net.Dial("tcp", addr)
		if err != nil {
			return
		}

		defer data.Close()

		prefix := protocol.EncodeLength(uint32(len(body)))
		data.Write(prefix[:])
		for idx := range body {
			if idx == stallAfter {
				<-done
				return
			}

			time.Sleep(pause)
			data.Write(body[idx : idx+1])
		}

		conn.Write([]byte("All done"))
	}()

	return lst.Addr().(*net.TCPAddr).Port, func() {
		close(done)
		lst.Close()
	}
}

func TestClientSlowTransfer(t *testing.T) {
	body := []byte("0123456789")
	port, stop := slowServer(t, body, 250*time.Millisecond, -1)
	defer stop()

	// The whole transfer takes longer than twice the timeout,
	// but there is never a second of silence.
	cl := &Client{Host: "127.0.0.1", ControlPort: port, AcceptTimeout: time.Second}
	got, err := cl.Get(context.Background(), "slow.bin")
	require.Nil(t, err)
	require.Equal(t, body, got)
}

func TestClientStalledTransfer(t *testing.T) {
	port, stop := slowServer(t, []byte("0123456789"), 10*time.Millisecond, 3)
	defer stop()

	cl := &Client{Host: "127.0.0.1", ControlPort: port, AcceptTimeout: 200 * time.Millisecond}

	start := time.Now()
	_, err := cl.Get(context.Background(), "stalled.bin")
	require.NotNil(t, err)
	require.True(t, time.Since(start) < 2*time.Second)
}
