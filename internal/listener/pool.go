package listener

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/tlslistener/internal/logger"
	"github.com/wolfeidau/tlslistener/internal/telemetry"
)

// DefaultPoolWorkers is the number of acceptors a Pool runs when
// PoolConfig.Workers is not set.
const DefaultPoolWorkers = 4

var _ net.Listener = (*Pool)(nil)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Workers is the number of concurrent acceptors, defaults to
	// DefaultPoolWorkers.
	Workers int

	// Backlog is the number of negotiated connections buffered ahead of
	// Accept.
	Backlog int

	// RetryInitialInterval and RetryMaxInterval bound the delay between
	// accepts after a temporary transport error.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	Logger zerolog.Logger
}

// Pool runs several acceptors over one Listener and exposes the negotiated
// connections as a net.Listener, which is what http.Server.Serve expects.
//
// Failed handshakes are logged and dropped. Temporary transport errors are
// retried with exponential backoff, any other transport error stops the pool
// and is returned by Accept.
type Pool struct {
	ln     *Listener
	cfg    PoolConfig
	logger zerolog.Logger

	conns  chan *Conn
	done   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	errOnce   sync.Once
	err       error
	closeOnce sync.Once
}

// NewPool starts the workers. They stop when ctx is done or Close is called,
// after which Accept returns net.ErrClosed.
func NewPool(ctx context.Context, ln *Listener, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultPoolWorkers
	}
	if cfg.Backlog < 0 {
		cfg.Backlog = 0
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 5 * time.Millisecond
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = time.Second
	}

	ctx, cancel := context.WithCancel(ctx)

	p := &Pool{
		ln:     ln,
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "pool").Logger(),
		conns:  make(chan *Conn, cfg.Backlog),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	for i := range cfg.Workers {
		p.wg.Add(1)
		go p.work(ctx, i)
	}

	// Accept must not block once the workers are gone.
	context.AfterFunc(ctx, func() {
		p.wg.Wait()
		p.stop(net.ErrClosed)
	})

	return p
}

// Accept returns the next negotiated connection as its *tls.Conn so that
// net/http can pick the ALPN protocol.
func (p *Pool) Accept() (net.Conn, error) {
	conn, err := p.AcceptConn()
	if err != nil {
		return nil, err
	}
	return conn.TLS(), nil
}

// AcceptConn returns the next negotiated connection.
func (p *Pool) AcceptConn() (*Conn, error) {
	select {
	case conn := <-p.conns:
		return conn, nil
	case <-p.done:
		return nil, p.err
	}
}

// Addr returns the listener's bound address.
func (p *Pool) Addr() net.Addr {
	return p.ln.LocalAddr()
}

// Err returns the error that stopped the pool, nil while it is running.
func (p *Pool) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Close stops the workers, closes the listener and any connection that was
// negotiated but not yet accepted.
func (p *Pool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		err = p.ln.Close()
		p.wg.Wait()
		p.stop(net.ErrClosed)

		for {
			select {
			case conn := <-p.conns:
				_ = conn.Close()
			default:
				return
			}
		}
	})
	return err
}

func (p *Pool) stop(err error) {
	p.errOnce.Do(func() {
		p.err = err
		close(p.done)
		p.cancel()
	})
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()

	metrics := telemetry.GetMetrics()
	log := p.logger.With().Int("worker", id).Logger()
	acc := p.ln.NewAcceptor()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryInitialInterval
	bo.MaxInterval = p.cfg.RetryMaxInterval

	for {
		conn, err := acc.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			var hsErr *HandshakeError
			if errors.As(err, &hsErr) {
				log.Debug().Err(err).Str("remote_addr", addrString(hsErr.RemoteAddr)).Msg("handshake failed")
				continue
			}

			var tErr *TransportError
			if errors.As(err, &tErr) && tErr.Temporary() {
				delay := bo.NextBackOff()
				metrics.AcceptRetriesTotal.Add(ctx, 1)
				log.Warn().Err(err).Dur("retry_in", delay).Msg("temporary accept failure")

				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return
				}
			}

			log.Error().Err(err).Msg("accept failed, stopping pool")
			p.stop(err)
			return
		}

		bo.Reset()

		connLog := logger.ForConn(log, conn.ID(), conn.PeerAddress(), conn.ConnectionState())
		connLog.Debug().
			Dur("handshake", conn.HandshakeDuration()).
			Msg("connection negotiated")

		select {
		case p.conns <- conn:
			metrics.ConnectionsDispatched.Add(ctx, 1)
		case <-ctx.Done():
			_ = conn.Close()
			return
		}
	}
}
