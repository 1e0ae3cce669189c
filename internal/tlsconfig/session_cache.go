package tlsconfig

import (
	"crypto/sha256"
	"crypto/tls"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSessionCacheSize is the number of resumable sessions kept per
// session configuration.
const DefaultSessionCacheSize = 1024

type ticketID [sha256.Size]byte

// SessionCache bounds server-side session resumption. Every ticket handed out
// is recorded by digest; a ticket evicted from the cache no longer resumes and
// the client falls back to a full handshake.
type SessionCache struct {
	tickets *lru.Cache[ticketID, struct{}]
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewSessionCache returns a cache holding at most size tickets.
func NewSessionCache(size int) (*SessionCache, error) {
	if size <= 0 {
		size = DefaultSessionCacheSize
	}

	tickets, err := lru.New[ticketID, struct{}](size)
	if err != nil {
		return nil, err
	}

	return &SessionCache{tickets: tickets}, nil
}

// Len returns the number of tracked tickets.
func (c *SessionCache) Len() int {
	return c.tickets.Len()
}

// Stats returns the resumption hits and misses seen so far.
func (c *SessionCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *SessionCache) add(ticket []byte) {
	c.tickets.Add(sha256.Sum256(ticket), struct{}{})
}

func (c *SessionCache) lookup(ticket []byte) bool {
	if c.tickets.Contains(sha256.Sum256(ticket)) {
		c.hits.Add(1)
		return true
	}
	c.misses.Add(1)
	return false
}

// install hooks the cache into cfg. Tickets stay encrypted with cfg's ticket
// keys; the cache only decides whether a presented ticket is still admitted.
func (c *SessionCache) install(cfg *tls.Config) {
	cfg.WrapSession = func(cs tls.ConnectionState, ss *tls.SessionState) ([]byte, error) {
		ticket, err := cfg.EncryptTicket(cs, ss)
		if err != nil {
			return nil, err
		}
		c.add(ticket)
		return ticket, nil
	}

	cfg.UnwrapSession = func(identity []byte, cs tls.ConnectionState) (*tls.SessionState, error) {
		if !c.lookup(identity) {
			return nil, nil
		}
		return cfg.DecryptTicket(identity, cs)
	}
}
