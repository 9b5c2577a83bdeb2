package server

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"
)

const (
	// MaxConnections is used when Options.MaxConnections is zero.
	MaxConnections = 10
)

// Handler is called for each accepted connection in its own goroutine.
// It owns `conn` and has to close it.
type Handler interface {
	Handle(ctx context.Context, conn net.Conn)
	Quit() error
}

// Options tune the accept loop. The zero value is usable.
type Options struct {
	// MaxConnections is the number of connections handled at the same time.
	MaxConnections int

	// AcceptsPerSecond throttles accepting; 0 means no throttle.
	AcceptsPerSecond float64

	// HandlerTimeout is the deadline of the context passed to Handle.
	// 0 means no deadline.
	HandlerTimeout time.Duration

	// HandleSignals makes Serve return on SIGINT and SIGTERM.
	HandleSignals bool
}

// Server is a generic server implementation that
// listens on a certain port and starts a new go routine
// for each new accepted connection.
// Whatever the goroutine does is defined by the user-defined handler.
type Server struct {
	lst     net.Listener
	ctx     context.Context
	cancel  context.CancelFunc
	handler Handler
	opts    Options
	limiter *rate.Limiter

	quitOnce  sync.Once
	quitCh    chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg       sync.WaitGroup
}

func NewServer(ctx context.Context, lst net.Listener, handler Handler, opts Options) (*Server, error) {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = MaxConnections
	}

	var limiter *rate.Limiter
	if opts.AcceptsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.AcceptsPerSecond), 1)
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Server{
		ctx:     ctx,
		cancel:  cancel,
		lst:     netutil.LimitListener(lst, opts.MaxConnections),
		handler: handler,
		opts:    opts,
		limiter: limiter,
		quitCh:  make(chan struct{}),
	}, nil
}

// Addr is the address the server listens on.
func (sv *Server) Addr() net.Addr {
	return sv.lst.Addr()
}

func (sv *Server) watchQuit() {
	var signalCh chan os.Signal
	if sv.opts.HandleSignals {
		signalCh = make(chan os.Signal, 1)
		signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(signalCh)
	}

	select {
	case sig := <-signalCh:
		log.Warnf("Received %s signal, quitting.", sig)
	case <-sv.quitCh:
		log.Infof("Will not accept new connections now")
	case <-sv.ctx.Done():
	}

	sv.cancel()
	if err := sv.closeListener(); err != nil {
		log.Debugf("Closing listener: %v", err)
	}
}

func (sv *Server) closeListener() error {
	sv.closeOnce.Do(func() {
		sv.closeErr = sv.lst.Close()
	})

	return sv.closeErr
}

func (sv *Server) accept() (bool, error) {
	if sv.limiter != nil {
		if err := sv.limiter.Wait(sv.ctx); err != nil {
			return false, nil
		}
	}

	conn, err := sv.lst.Accept()
	if err != nil {
		if sv.ctx.Err() != nil {
			return false, nil
		}

		if netErr, ok := err.(net.Error); ok && netErr.Temporary() {
			log.Warnf("Temporary accept error: %v", err)
			time.Sleep(50 * time.Millisecond)
			return true, nil
		}

		// Something else happened.
		return false, err
	}

	handleCtx, cancel := sv.ctx, context.CancelFunc(func() {})
	if sv.opts.HandlerTimeout > 0 {
		handleCtx, cancel = context.WithTimeout(sv.ctx, sv.opts.HandlerTimeout)
	}

	sv.wg.Add(1)
	go func() {
		defer sv.wg.Done()
		defer cancel()
		sv.handler.Handle(handleCtx, conn)
	}()

	return true, nil
}

// Serve accepts connections until Quit() is called, the context is
// canceled or (with HandleSignals) a signal arrives. It waits for all
// running handlers before calling the handler's Quit().
func (sv *Server) Serve() error {
	go sv.watchQuit()

	var serveErr error
	for {
		goOn, err := sv.accept()
		if err != nil {
			log.Errorf("Failed to accept connection: %s", err)
			serveErr = err
			sv.Quit()
			break
		}

		if !goOn {
			break
		}
	}

	sv.wg.Wait()
	if err := sv.handler.Quit(); err != nil && serveErr == nil {
		serveErr = err
	}

	return serveErr
}

// Quit makes Serve return. It is safe to call it several times.
func (sv *Server) Quit() {
	sv.quitOnce.Do(func() {
		close(sv.quitCh)
	})
}

// Close stops the server and closes the listener,
// also when Serve() was never called.
func (sv *Server) Close() error {
	sv.Quit()
	sv.cancel()
	return sv.closeListener()
}
