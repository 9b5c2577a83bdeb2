// Package client talks to a server from the peer's side: it listens on a
// data port, sends the request over the control connection and receives
// the framed payload once the server connects back.
package client

import (
	"context"
	"io"
	"io/ioutil"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sahib/ftserve/request"
	"github.com/sahib/ftserve/response"
	"github.com/sahib/ftserve/util/protocol"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultAcceptTimeout is how long to wait for the server to connect back.
	DefaultAcceptTimeout = 5 * time.Second

	rejectPrefix = "404&"
	maxAckSize   = 256
)

var (
	// ErrFileNotFound is returned when the server sent the NotFound sentinel.
	ErrFileNotFound = errors.New("file not found")
)

// RejectedError is returned when the server answered with a rejection.
type RejectedError struct {
	Reason string
}

func (re *RejectedError) Error() string {
	return "server rejected request: " + re.Reason
}

// IsRejected checks if `err` is a *RejectedError.
func IsRejected(err error) bool {
	_, ok := errors.Cause(err).(*RejectedError)
	return ok
}

// Client sends requests to a single server.
type Client struct {
	// Host and ControlPort address the server.
	Host        string
	ControlPort int

	// DataHost is the interface the data listener binds to.
	// Empty means all interfaces.
	DataHost string

	// DataPort is where the server should connect to.
	// 0 picks a free port.
	DataPort uint16

	// AcceptTimeout bounds the wait for the data connection, every
	// stall while the body arrives and the wait for the acknowledgement
	// after it. Transfers may take as long as they keep making progress.
	AcceptTimeout time.Duration

	// MaxBodySize makes receiving fail for bigger payloads. 0 means no limit.
	MaxBodySize uint32
}

// Result is the outcome of a single request.
type Result struct {
	Request *request.Request
	Ack     string
	Body    []byte
}

type recvResult struct {
	body []byte
	err  error
}

type ackResult struct {
	ack string
	err error
}

// idleReader renews the read deadline before every read. Only a
// stalled connection times out, not a slow but steady one.
type idleReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (ir *idleReader) Read(buf []byte) (int, error) {
	if err := ir.conn.SetReadDeadline(time.Now().Add(ir.timeout)); err != nil {
		return 0, err
	}

	return ir.conn.Read(buf)
}

func (cl *Client) acceptTimeout() time.Duration {
	if cl.AcceptTimeout <= 0 {
		return DefaultAcceptTimeout
	}

	return cl.AcceptTimeout
}

func (cl *Client) listen() (*net.TCPListener, uint16, error) {
	addr := net.JoinHostPort(cl.DataHost, strconv.Itoa(int(cl.DataPort)))
	lst, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "listen on data port %s", addr)
	}

	tcpLst := lst.(*net.TCPListener)
	return tcpLst, uint16(tcpLst.Addr().(*net.TCPAddr).Port), nil
}

func (cl *Client) receive(lst *net.TCPListener) ([]byte, error) {
	if err := lst.SetDeadline(time.Now().Add(cl.acceptTimeout())); err != nil {
		return nil, err
	}

	conn, err := lst.Accept()
	if err != nil {
		return nil, errors.Wrap(err, "wait for data connection")
	}

	defer conn.Close()

	proto := protocol.NewProtocolReader(&idleReader{conn: conn, timeout: cl.acceptTimeout()})
	if cl.MaxBodySize > 0 {
		proto.SetRecvLimit(cl.MaxBodySize)
	}

	return proto.Recv()
}

// sendRequest dials the control port and writes `msg`.
func (cl *Client) sendRequest(ctx context.Context, msg string) (net.Conn, error) {
	addr := net.JoinHostPort(cl.Host, strconv.Itoa(cl.ControlPort))
	dialer := &net.Dialer{Timeout: cl.acceptTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", addr)
	}

	if _, err := conn.Write([]byte(msg)); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "send request")
	}

	return conn, nil
}

// readAck reads until the server closes the control connection.
func readAck(conn net.Conn) (string, error) {
	ack, err := ioutil.ReadAll(io.LimitReader(conn, maxAckSize))
	if err != nil {
		return "", errors.Wrap(err, "read acknowledgement")
	}

	return strings.TrimRight(string(ack), "\x00"), nil
}

// Raw sends `msg` as is on a new control connection and returns the
// acknowledgement. No data listener is opened.
func (cl *Client) Raw(ctx context.Context, msg string) (string, error) {
	conn, err := cl.sendRequest(ctx, msg)
	if err != nil {
		return "", err
	}

	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return "", err
		}
	}

	return readAck(conn)
}

// Do sends `cmd` (with `filename` for Get) and returns what came back.
// The data listener is opened before the request is sent.
//
// The server acknowledges only after the payload was written, so the
// control connection is not timed out while the body is still arriving.
// Once the body is in, the acknowledgement has to follow within
// AcceptTimeout.
func (cl *Client) Do(ctx context.Context, cmd request.Command, filename string) (*Result, error) {
	lst, port, err := cl.listen()
	if err != nil {
		return nil, err
	}

	defer lst.Close()

	req := &request.Request{Command: cmd, Filename: filename, DataPort: port}
	if _, err := request.Parse(req.String()); err != nil {
		return nil, errors.Wrapf(err, "cannot send %q", filename)
	}

	res := &Result{Request: req}

	recvCh := make(chan recvResult, 1)
	go func() {
		body, err := cl.receive(lst)
		recvCh <- recvResult{body: body, err: err}
	}()

	log.Debugf("Sending %q to %s:%d", req.String(), cl.Host, cl.ControlPort)
	conn, err := cl.sendRequest(ctx, req.String())
	if err != nil {
		return nil, err
	}

	defer conn.Close()

	ackCh := make(chan ackResult, 1)
	go func() {
		ack, err := readAck(conn)
		ackCh <- ackResult{ack: ack, err: err}
	}()

	var recv *recvResult
	for {
		select {
		case got := <-recvCh:
			recv = &got
			recvCh = nil
			if err := conn.SetReadDeadline(time.Now().Add(cl.acceptTimeout())); err != nil {
				return res, err
			}
		case ack := <-ackCh:
			if ack.err != nil {
				return nil, ack.err
			}

			res.Ack = ack.ack
			if strings.HasPrefix(res.Ack, rejectPrefix) {
				return res, &RejectedError{Reason: strings.TrimPrefix(res.Ack, rejectPrefix)}
			}

			if recv == nil {
				// Bounded by the accept and idle timeouts of receive().
				got := <-recvCh
				recv = &got
			}

			if recv.err != nil {
				return res, recv.err
			}

			res.Body = recv.body
			return res, nil
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
}

// List returns the names in the directory served by the server.
func (cl *Client) List(ctx context.Context) ([]string, error) {
	res, err := cl.Do(ctx, request.List, "")
	if err != nil {
		return nil, err
	}

	if len(res.Body) == 0 {
		return []string{}, nil
	}

	return strings.Split(string(res.Body), "\n"), nil
}

// Get returns the content of `name`. ErrFileNotFound is returned when
// the server answered with the NotFound sentinel.
func (cl *Client) Get(ctx context.Context, name string) ([]byte, error) {
	res, err := cl.Do(ctx, request.Get, name)
	if err != nil {
		return nil, err
	}

	if string(res.Body) == response.NotFound {
		return nil, ErrFileNotFound
	}

	return res.Body, nil
}
