// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

package warden

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wardenmq/warden/plugins/storage"
)

// Chain is an ordered collection of plugins which are consulted in sequence.
// For each check, the first plugin to return a decision other than Defer
// settles the check; an Error decision is resolved to Deny. If every plugin
// defers, Defer is returned and the caller is expected to deny.
type Chain struct {
	Log        *slog.Logger   // a logger for the chain (from the host)
	internal   atomic.Value   // a slice of []Plugin
	wg         sync.WaitGroup // a waitgroup for syncing plugin shutdown
	qty        int64          // the number of plugins in use
	sync.Mutex                // a mutex for locking when adding plugins
}

// Len returns the number of plugins added.
func (c *Chain) Len() int64 {
	return atomic.LoadInt64(&c.qty)
}

// Provides returns true if any one plugin provides any of the requested
// plugin methods.
func (c *Chain) Provides(b ...byte) bool {
	for _, pl := range c.GetAll() {
		for _, pb := range b {
			if pl.Provides(pb) {
				return true
			}
		}
	}

	return false
}

// Add checks the version of, adds, and initializes a new plugin.
func (c *Chain) Add(pl Plugin, config any) error {
	c.Lock()
	defer c.Unlock()

	if v := pl.Version(); v != PluginVersion {
		return fmt.Errorf("%w: %s reports version %d, want %d", ErrPluginVersion, pl.ID(), v, PluginVersion)
	}

	err := pl.Init(config)
	if err != nil {
		return fmt.Errorf("failed initialising %s plugin: %w", pl.ID(), err)
	}

	i, ok := c.internal.Load().([]Plugin)
	if !ok {
		i = []Plugin{}
	}

	i = append(i, pl)
	c.internal.Store(i)
	atomic.AddInt64(&c.qty, 1)
	c.wg.Add(1)

	return nil
}

// GetAll returns a slice of all the plugins.
func (c *Chain) GetAll() []Plugin {
	i, ok := c.internal.Load().([]Plugin)
	if !ok {
		return []Plugin{}
	}

	return i
}

// Stop indicates all attached plugins to gracefully end.
func (c *Chain) Stop() {
	go func() {
		for _, pl := range c.GetAll() {
			c.Log.Info("stopping plugin", "plugin", pl.ID())
			if err := pl.Stop(); err != nil {
				c.Log.Debug("problem stopping plugin", "error", err, "plugin", pl.ID())
			}

			c.wg.Done()
		}
	}()

	c.wg.Wait()
}

// OnStarted is called when the host has successfully started.
func (c *Chain) OnStarted() {
	for _, pl := range c.GetAll() {
		if pl.Provides(OnStarted) {
			pl.OnStarted()
		}
	}
}

// OnStopped is called when the host has successfully stopped.
func (c *Chain) OnStopped() {
	for _, pl := range c.GetAll() {
		if pl.Provides(OnStopped) {
			pl.OnStopped()
		}
	}
}

// OnSecurityInit is called when the host initialises its security state, and
// again on each configuration reload. The first plugin to return an error
// halts the sequence.
func (c *Chain) OnSecurityInit(reload bool) error {
	for _, pl := range c.GetAll() {
		if pl.Provides(OnSecurityInit) {
			err := pl.OnSecurityInit(reload)
			if err != nil {
				return fmt.Errorf("failed security init of %s plugin: %w", pl.ID(), err)
			}
		}
	}

	return nil
}

// OnSecurityCleanup is called when the host discards its security state,
// directly before Stop on shutdown, or before OnSecurityInit on reload.
// Errors are logged and do not halt the sequence.
func (c *Chain) OnSecurityCleanup(reload bool) error {
	var last error
	for _, pl := range c.GetAll() {
		if pl.Provides(OnSecurityCleanup) {
			err := pl.OnSecurityCleanup(reload)
			if err != nil {
				c.Log.Error("failed security cleanup", "error", err, "plugin", pl.ID())
				last = err
			}
		}
	}

	return last
}

// OnAuthenticate is called when a username/password pair must be checked for
// a connecting client. The first plugin returning a non-defer decision
// settles the check.
func (c *Chain) OnAuthenticate(cl *Client, username, password []byte) Decision {
	for _, pl := range c.GetAll() {
		if !pl.Provides(OnAuthenticate) {
			continue
		}

		switch d := pl.OnAuthenticate(cl, username, password); d {
		case Defer:
			continue
		case Error:
			c.Log.Warn("plugin error during authentication check",
				"plugin", pl.ID(),
				"username", string(username),
				"remote", cl.Remote)
			return Deny
		default:
			return d
		}
	}

	return Defer
}

// OnACLCheck is called when topic access must be checked for a client. The
// first plugin returning a non-defer decision settles the check.
func (c *Chain) OnACLCheck(cl *Client, access Access, msg *ACLMessage) Decision {
	for _, pl := range c.GetAll() {
		if !pl.Provides(OnACLCheck) {
			continue
		}

		switch d := pl.OnACLCheck(cl, access, msg); d {
		case Defer:
			continue
		case Error:
			c.Log.Warn("plugin error during acl check",
				"plugin", pl.ID(),
				"client", cl.ID,
				"topic", msg.Topic,
				"access", access.String())
			return Deny
		default:
			return d
		}
	}

	return Defer
}

// OnPSKKeyGet is called when the pre-shared key for a client identity must be
// retrieved. Keys which are not plain hexadecimal, or which exceed
// MaxPSKKeyLen, are rejected and the check is denied.
func (c *Chain) OnPSKKeyGet(cl *Client, hint, identity string) (string, Decision) {
	for _, pl := range c.GetAll() {
		if !pl.Provides(OnPSKKeyGet) {
			continue
		}

		key, d := pl.OnPSKKeyGet(cl, hint, identity)
		switch d {
		case Defer:
			continue
		case Allow:
			if !validPSKKey(key) {
				c.Log.Warn("plugin returned invalid psk key",
					"plugin", pl.ID(),
					"identity", identity)
				return "", Deny
			}
			return key, Allow
		case Error:
			c.Log.Warn("plugin error during psk lookup",
				"plugin", pl.ID(),
				"identity", identity,
				"hint", hint)
			return "", Deny
		default:
			return "", Deny
		}
	}

	return "", Defer
}

// StoredUsers returns the user records of the first plugin in the chain which
// holds any, e.g. from a credential store.
func (c *Chain) StoredUsers() (v []storage.User, err error) {
	for _, pl := range c.GetAll() {
		if pl.Provides(StoredUsers) {
			v, err := pl.StoredUsers()
			if err != nil {
				c.Log.Error("failed to load users", "error", err, "plugin", pl.ID())
				return v, err
			}

			if len(v) > 0 {
				return v, nil
			}
		}
	}

	return
}

// validPSKKey returns true if key is a non-empty hex string of even length
// within the permitted bound.
func validPSKKey(key string) bool {
	if key == "" || len(key) > MaxPSKKeyLen || len(key)%2 != 0 {
		return false
	}

	_, err := hex.DecodeString(key)
	return err == nil
}
