// Package server implements the control side of the transfer protocol.
// Each control connection carries exactly one request; the answer is pushed
// over a second connection that the server opens to the peer's data port.
// Afterwards a short acknowledgement is written on the control connection
// and it is closed.
package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sahib/config"
	"github.com/sahib/ftserve/dataconn"
	"github.com/sahib/ftserve/defaults"
	"github.com/sahib/ftserve/response"
	"github.com/sahib/ftserve/util/server"
	log "github.com/sirupsen/logrus"
	"github.com/ulule/limiter"
	"github.com/ulule/limiter/drivers/store/memory"
)

// Server accepts control connections on a single port.
type Server struct {
	baseServer *server.Server
	hdl        *handler
}

// Serve blocks until the server is quit.
func (sv *Server) Serve() error {
	log.Infof("Serving requests from now on.")
	return sv.baseServer.Serve()
}

// Addr is the address of the control listener.
func (sv *Server) Addr() net.Addr {
	return sv.baseServer.Addr()
}

func (sv *Server) Quit() {
	sv.baseServer.Quit()
}

func (sv *Server) Close() error {
	return sv.baseServer.Close()
}

func newBuilder(cfg *config.Config) (*response.Builder, error) {
	root, err := filepath.Abs(cfg.String("server.root"))
	if err != nil {
		return nil, errors.Wrap(err, "served directory")
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(err, "served directory")
	}

	if !info.IsDir() {
		return nil, errors.Errorf("served directory %s is not a directory", root)
	}

	maxSize, err := defaults.ParseSize(cfg.String("data.max_file_size"))
	if err != nil {
		return nil, errors.Wrap(err, "data.max_file_size")
	}

	bd := response.NewBuilder(root)
	bd.MaxFileSize = maxSize
	bd.DotEntries = cfg.Bool("listing.dot_entries")
	return bd, nil
}

func newHandler(cfg *config.Config) (*handler, error) {
	bd, err := newBuilder(cfg)
	if err != nil {
		return nil, err
	}

	hdl := &handler{
		builder: bd,
		initiator: &dataconn.Initiator{
			Resolver:       net.DefaultResolver,
			Dialer:         &net.Dialer{},
			ConnectTimeout: cfg.Duration("data.connect_timeout"),
			WriteTimeout:   cfg.Duration("data.write_timeout"),
		},
		resolver:      net.DefaultResolver,
		readTimeout:   cfg.Duration("server.read_timeout"),
		dispatchDelay: cfg.Duration("server.dispatch_delay"),
	}

	if perHour := cfg.Int("server.peer_requests_per_hour"); perHour > 0 {
		hdl.peerLimit = limiter.New(memory.NewStore(), limiter.Rate{
			Period: time.Hour,
			Limit:  perHour,
		})
	}

	return hdl, nil
}

// BootServer binds the control port and prepares everything for Serve().
// Failing to listen is the only fatal error of the server.
func BootServer(ctx context.Context, cfg *config.Config, port int, handleSignals bool) (*Server, error) {
	hdl, err := newHandler(cfg)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.String("server.bind"), strconv.Itoa(port))
	lst, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}

	log.Infof("Server open on %s, serving %s", lst.Addr(), hdl.builder.Root)

	// Every request holds a control conn, a data conn and the served file.
	maxConns := cfg.Int("server.max_connections")
	if err := raiseOpenFileLimit(uint64(3*maxConns + 64)); err != nil {
		log.Warningf("Failed to raise open file limit: %v", err)
	}

	baseServer, err := server.NewServer(ctx, lst, hdl, server.Options{
		MaxConnections:   int(maxConns),
		AcceptsPerSecond: cfg.Float("server.accepts_per_second"),
		HandlerTimeout:   cfg.Duration("server.handler_timeout"),
		HandleSignals:    handleSignals,
	})

	if err != nil {
		lst.Close()
		return nil, err
	}

	return &Server{
		baseServer: baseServer,
		hdl:        hdl,
	}, nil
}
