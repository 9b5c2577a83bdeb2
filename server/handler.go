package server

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/sahib/ftserve/dataconn"
	"github.com/sahib/ftserve/request"
	"github.com/sahib/ftserve/response"
	log "github.com/sirupsen/logrus"
	"github.com/ulule/limiter"
)

const (
	// AckDone is written on the control connection after a request was
	// dispatched, no matter if the data connection succeeded.
	AckDone = "All done"

	// AckInvalid is written when a request was rejected.
	AckInvalid = "404&Invalid Command"

	// MaxMessageSize is the most that is read from a control connection.
	MaxMessageSize = 255
)

// ConnState is the phase a control connection is in.
type ConnState int

const (
	AwaitRequest ConnState = iota
	Validating
	Dispatching
	Rejected
	AckSent
	ConnClosed
)

func (cs ConnState) String() string {
	switch cs {
	case AwaitRequest:
		return "await-request"
	case Validating:
		return "validating"
	case Dispatching:
		return "dispatching"
	case Rejected:
		return "rejected"
	case AckSent:
		return "ack-sent"
	case ConnClosed:
		return "closed"
	default:
		return fmt.Sprintf("conn-state(%d)", int(cs))
	}
}

// PeerResolver finds the name of a peer for logging.
// *net.Resolver implements it.
type PeerResolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// Session is what happened on a single control connection.
type Session struct {
	PeerHost string
	PeerName string
	Message  string

	Request  *request.Request
	Payload  *response.Payload
	Transfer *dataconn.Transfer

	history []ConnState
}

func (ss *Session) enter(state ConnState) {
	ss.history = append(ss.history, state)
}

// State is the last state of the session.
func (ss *Session) State() ConnState {
	return ss.history[len(ss.history)-1]
}

// History lists all states the connection went through.
func (ss *Session) History() []ConnState {
	return append([]ConnState(nil), ss.history...)
}

type handler struct {
	builder   *response.Builder
	initiator *dataconn.Initiator
	resolver  PeerResolver

	// peerLimit is nil when requests per peer are not limited.
	peerLimit *limiter.Limiter

	readTimeout   time.Duration
	dispatchDelay time.Duration

	// onSession is called after each connection is done.
	onSession func(ss *Session)
}

func (hdl *handler) peerName(ctx context.Context, host string) string {
	if hdl.resolver == nil {
		return host
	}

	names, err := hdl.resolver.LookupAddr(ctx, host)
	if err != nil || len(names) == 0 {
		return host
	}

	return strings.TrimSuffix(names[0], ".")
}

func (hdl *handler) overLimit(ctx context.Context, host string) bool {
	if hdl.peerLimit == nil {
		return false
	}

	lctx, err := hdl.peerLimit.Get(ctx, host)
	if err != nil {
		log.Warnf("Failed to check request limit for %s: %v", host, err)
		return false
	}

	return lctx.Reached
}

func (hdl *handler) readMessage(ctx context.Context, conn net.Conn) (string, error) {
	if hdl.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(hdl.readTimeout)); err != nil {
			return "", err
		}
	}

	// An idle peer must not hold up a shutdown.
	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-readDone:
		}
	}()

	// One read, like the peers expect: the message is
	// whatever arrives first.
	buf := make([]byte, MaxMessageSize)
	n, err := conn.Read(buf)
	if n == 0 && err != nil {
		return "", err
	}

	return string(buf[:n]), nil
}

func (hdl *handler) ack(conn net.Conn, ss *Session, msg string) {
	if _, err := conn.Write([]byte(msg)); err != nil {
		log.Warnf("Failed to send %q to %s: %v", msg, ss.PeerName, err)
		return
	}

	ss.enter(AckSent)
}

func (hdl *handler) dispatch(ctx context.Context, ss *Session) {
	req := ss.Request
	switch req.Command {
	case request.List:
		log.Infof("List directory requested on %d", req.DataPort)
	case request.Get:
		log.Infof("File \"%s\" requested on port %d", req.Filename, req.DataPort)
	}

	ss.Payload = hdl.builder.Build(req)
	switch ss.Payload.Kind {
	case response.KindNotFound:
		log.Infof("File not found: sending error message to %s:%d", ss.PeerName, req.DataPort)
	case response.KindFile:
		log.Infof(
			"Sending \"%s\" (%s) to %s:%d",
			req.Filename, humanize.IBytes(uint64(ss.Payload.Len())), ss.PeerName, req.DataPort,
		)
	default:
		log.Infof("Sending directory contents to %s:%d", ss.PeerName, req.DataPort)
	}

	if hdl.dispatchDelay > 0 {
		select {
		case <-time.After(hdl.dispatchDelay):
		case <-ctx.Done():
		}
	}

	// Failures are logged by the initiator; the peer only notices
	// that nobody connects to its data port.
	ss.Transfer, _ = hdl.initiator.Send(ctx, ss.PeerHost, req.DataPort, ss.Payload.Body)
}

func (hdl *handler) handle(ctx context.Context, conn net.Conn) *Session {
	ss := &Session{}
	ss.enter(AwaitRequest)

	defer func() {
		if err := conn.Close(); err != nil {
			log.Debugf("Failed to close control connection: %v", err)
		}

		ss.enter(ConnClosed)
	}()

	ss.PeerHost = conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(ss.PeerHost); err == nil {
		ss.PeerHost = host
	}

	ss.PeerName = hdl.peerName(ctx, ss.PeerHost)
	log.Infof("Connection from %s", ss.PeerName)

	msg, err := hdl.readMessage(ctx, conn)
	if err != nil {
		log.Warnf("Failed to read request from %s: %v", ss.PeerName, err)
		return ss
	}

	ss.Message = msg
	ss.enter(Validating)

	req, err := request.Parse(msg)
	if err == nil && hdl.overLimit(ctx, ss.PeerHost) {
		err = fmt.Errorf("%s sent too many requests", ss.PeerName)
	}

	if err != nil {
		log.Infof("Rejecting request from %s: %v", ss.PeerName, err)
		ss.enter(Rejected)
		hdl.ack(conn, ss, AckInvalid)
		return ss
	}

	ss.Request = req
	ss.enter(Dispatching)
	hdl.dispatch(ctx, ss)
	hdl.ack(conn, ss, AckDone)
	return ss
}

// Handle implements util/server.Handler.
func (hdl *handler) Handle(ctx context.Context, conn net.Conn) {
	ss := hdl.handle(ctx, conn)
	if hdl.onSession != nil {
		hdl.onSession(ss)
	}
}

// Quit implements util/server.Handler.
func (hdl *handler) Quit() error {
	return nil
}
