// Package dataconn opens the data connection back to a peer. The peer
// advertised a port on the control connection and listens there; the
// server turns into the connecting side, writes one framed payload and
// closes the connection again.
//
// Every transfer walks through this state machine:
//
//	Init -> Resolving -> Connecting -> Sending -> Closed
//	           |             |
//	           +--> Failed <-+
//
// There are no retries and no way back from Failed.
package dataconn

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sahib/ftserve/util/protocol"
	log "github.com/sirupsen/logrus"
)

// State is the phase a transfer is in.
type State int

const (
	Init State = iota
	Resolving
	Connecting
	Sending
	Closed
	Failed
)

var stateNames = map[State]string{
	Init:       "init",
	Resolving:  "resolving",
	Connecting: "connecting",
	Sending:    "sending",
	Closed:     "closed",
	Failed:     "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("state(%d)", int(s))
}

var transitions = map[State][]State{
	Init:       {Resolving},
	Resolving:  {Connecting, Failed},
	Connecting: {Sending, Failed},
	Sending:    {Closed},
}

// CanTransition tells if `to` may follow `from`.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// TransferError is returned when a transfer ended in Failed.
// State is the phase in which it failed.
type TransferError struct {
	State State
	Err   error
}

func (te *TransferError) Error() string {
	return fmt.Sprintf("data connection failed while %s: %v", te.State, te.Err)
}

func (te *TransferError) Cause() error {
	return te.Err
}

// Resolver turns a host name into addresses. *net.Resolver implements it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Dialer opens connections. *net.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Transfer records what happened to a single payload.
type Transfer struct {
	Host string
	Port uint16

	// Addr is the address that was connected to, if any.
	Addr string

	// Expected is the number of bytes of the frame; Written is what the
	// connection accepted.
	Expected int
	Written  int

	// WriteErr is set when the write was cut short.
	WriteErr error

	history []State
}

// State returns the current (after Send: the final) state.
func (tr *Transfer) State() State {
	return tr.history[len(tr.history)-1]
}

// History returns all states the transfer went through, starting with Init.
func (tr *Transfer) History() []State {
	return append([]State(nil), tr.history...)
}

// Short tells if fewer bytes were written than the frame has.
func (tr *Transfer) Short() bool {
	return tr.Written < tr.Expected
}

func (tr *Transfer) enter(next State) {
	curr := tr.State()
	if !CanTransition(curr, next) {
		panic(fmt.Sprintf("dataconn: bad transition %s -> %s", curr, next))
	}

	tr.history = append(tr.history, next)
}

func (tr *Transfer) fail(err error) (*Transfer, error) {
	failedIn := tr.State()
	tr.enter(Failed)
	return tr, &TransferError{State: failedIn, Err: err}
}

// Initiator opens data connections. The zero value uses the default
// resolver, a plain dialer and no timeouts.
type Initiator struct {
	Resolver Resolver
	Dialer   Dialer

	// ConnectTimeout bounds resolving and connecting together.
	ConnectTimeout time.Duration

	// WriteTimeout bounds writing the frame.
	WriteTimeout time.Duration
}

func (in *Initiator) resolver() Resolver {
	if in.Resolver == nil {
		return net.DefaultResolver
	}

	return in.Resolver
}

func (in *Initiator) dialer() Dialer {
	if in.Dialer == nil {
		return &net.Dialer{}
	}

	return in.Dialer
}

func (in *Initiator) connect(ctx context.Context, tr *Transfer) (net.Conn, error) {
	if in.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.ConnectTimeout)
		defer cancel()
	}

	tr.enter(Resolving)
	addrs, err := in.resolver().LookupHost(ctx, tr.Host)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", tr.Host)
	}

	if len(addrs) == 0 {
		return nil, errors.Errorf("no addresses for %s", tr.Host)
	}

	tr.enter(Connecting)

	port := strconv.Itoa(int(tr.Port))
	for _, addr := range addrs {
		target := net.JoinHostPort(addr, port)
		conn, dialErr := in.dialer().DialContext(ctx, "tcp", target)
		if dialErr == nil {
			tr.Addr = target
			return conn, nil
		}

		log.Debugf("Failed to connect to %s: %v", target, dialErr)
		err = dialErr
	}

	return nil, errors.Wrapf(err, "connect to %s:%s", tr.Host, port)
}

// Send connects to `host`:`port`, writes `body` with its length prefix
// and closes the connection. A failure to resolve or connect ends the
// transfer in Failed and returns a *TransferError. A short write is only
// logged; the transfer still ends in Closed and no error is returned.
func (in *Initiator) Send(ctx context.Context, host string, port uint16, body []byte) (*Transfer, error) {
	tr := &Transfer{
		Host:     host,
		Port:     port,
		Expected: protocol.PrefixSize + len(body),
		history:  []State{Init},
	}

	conn, err := in.connect(ctx, tr)
	if err != nil {
		log.Errorf("Data connection to %s:%d failed: %v", host, port, err)
		return tr.fail(err)
	}

	tr.enter(Sending)

	if in.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(in.WriteTimeout)); err != nil {
			log.Warnf("Failed to set write deadline on %s: %v", tr.Addr, err)
		}
	}

	tr.Written, tr.WriteErr = protocol.NewProtocolWriter(conn).Send(body)
	if tr.WriteErr != nil || tr.Short() {
		log.Warnf(
			"Not all data written to %s (%d of %d bytes): %v",
			tr.Addr, tr.Written, tr.Expected, tr.WriteErr,
		)
	} else {
		log.Debugf("Sent %s to %s", humanize.IBytes(uint64(tr.Written)), tr.Addr)
	}

	if err := conn.Close(); err != nil {
		log.Warnf("Failed to close data connection to %s: %v", tr.Addr, err)
	}

	tr.enter(Closed)
	return tr, nil
}
