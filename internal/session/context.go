// Package session tracks the authenticated user. The user is set and cleared
// only by user_change events; connection loss clears it through the same
// event, synthesized locally.
package session

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/costclaim/groupview/internal/dispatch"
	"github.com/costclaim/groupview/internal/protocol"
)

type Context struct {
	mu     sync.RWMutex
	user   *protocol.User
	sub    *dispatch.Subscription
	logger *zap.Logger
}

// Attach subscribes the context to user_change events on d.
func Attach(d *dispatch.Dispatcher, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Context{logger: logger}
	c.sub = d.Subscribe(protocol.EvtUserChange, c.onUserChange)
	return c
}

func (c *Context) onUserChange(raw []byte) {
	var msg protocol.UserChange
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Debug("bad user_change payload", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !msg.Valid {
		c.user = nil
		c.logger.Info("session cleared")
		return
	}
	if msg.User != nil {
		u := *msg.User
		c.user = &u
		c.logger.Info("session user set", zap.Int("user_id", u.UserID), zap.String("name", u.Name))
	}
}

// User returns the authenticated user, if any.
func (c *Context) User() (protocol.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return protocol.User{}, false
	}
	return *c.user, true
}

// Close detaches the context from the dispatcher.
func (c *Context) Close(d *dispatch.Dispatcher) {
	d.Unsubscribe(c.sub)
}
