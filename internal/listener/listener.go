// Package listener is the thin TCP accept loop that hands each connection
// off to the session core. It is deliberately minimal: computing a router
// hash from the remote IP and starting one session per connection is all
// the supervisor role requires here.
package listener

import (
	"context"
	"crypto/md5"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/route-beacon/bmp-collector/internal/bus"
	"github.com/route-beacon/bmp-collector/internal/metrics"
	"github.com/route-beacon/bmp-collector/internal/session"
	"github.com/route-beacon/bmp-collector/internal/template"
)

// Listener accepts router connections and runs one session goroutine per
// connection until Shutdown is called.
type Listener struct {
	ln       net.Listener
	bus      bus.Bus
	tmpl     template.Map
	debugBMP bool
	debugBGP bool
	logger   *zap.Logger

	wg   sync.WaitGroup
	stop chan struct{}
}

// New binds addr and returns a Listener ready to Serve.
func New(addr string, b bus.Bus, tmpl template.Map, debugBMP, debugBGP bool, logger *zap.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		ln:       ln,
		bus:      b,
		tmpl:     tmpl,
		debugBMP: debugBMP,
		debugBGP: debugBGP,
		logger:   logger.Named("listener"),
		stop:     make(chan struct{}),
	}, nil
}

// Serve accepts connections until ctx is done or Shutdown is called. It
// blocks until the accept loop exits.
func (l *Listener) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				l.logger.Warn("accept failed", zap.Error(err))
				return
			}
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConn(ctx, conn)
		}()
	}
}

// Shutdown stops accepting new connections and waits for in-flight sessions
// to end (typically because ctx was already canceled by the caller).
func (l *Listener) Shutdown() {
	l.ln.Close()
	l.wg.Wait()
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remoteIP, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		remoteIP = conn.RemoteAddr().String()
	}

	metrics.ConnectionsTotal.WithLabelValues().Inc()

	routerHash := routerHashForIP(remoteIP)
	logger := l.logger.With(zap.String("remote_ip", remoteIP))
	logger.Info("router connected")

	cc := session.Context{
		RouterHash: routerHash,
		RouterIP:   remoteIP,
		Source:     conn,
		DebugBMP:   l.debugBMP,
		DebugBGP:   l.debugBGP,
	}

	if err := session.Run(ctx, cc, l.bus, l.tmpl, l.stop, logger); err != nil {
		logger.Warn("session ended with error", zap.Error(err))
		return
	}
	logger.Info("router disconnected")
}

// routerHashForIP derives a stable content hash for a router from its
// observed IP address. A real deployment would resolve this against a
// pre-provisioned router catalog; absent one, the address itself is the
// only stable identity a bare accept loop has to offer.
func routerHashForIP(ip string) [16]byte {
	return md5.Sum([]byte(ip))
}
