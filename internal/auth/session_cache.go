package auth

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 5 * time.Minute
)

// SessionCache keeps recently validated sessions so bearer checks on hot
// routes skip the database. Entries leave after the cache TTL or once the
// session itself expires, whichever is first.
type SessionCache struct {
	lru *expirable.LRU[string, Session]
}

func NewSessionCache(size int, ttl time.Duration) *SessionCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &SessionCache{lru: expirable.NewLRU[string, Session](size, nil, ttl)}
}

// Get returns the cached session for token unless it has expired at now.
func (c *SessionCache) Get(token string, now time.Time) (Session, bool) {
	session, ok := c.lru.Get(token)
	if !ok {
		return Session{}, false
	}
	if now.After(session.ExpiresAt) {
		c.lru.Remove(token)
		return Session{}, false
	}
	return session, true
}

func (c *SessionCache) Set(session Session) {
	if session.Token == "" {
		return
	}
	c.lru.Add(session.Token, session)
}

func (c *SessionCache) Delete(token string) {
	c.lru.Remove(token)
}

// DeleteByUserID evicts every session of one user.
func (c *SessionCache) DeleteByUserID(userID string) {
	for _, token := range c.lru.Keys() {
		if s, ok := c.lru.Peek(token); ok && s.UserID == userID {
			c.lru.Remove(token)
		}
	}
}

func (c *SessionCache) Len() int {
	return c.lru.Len()
}
