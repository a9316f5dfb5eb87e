// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

package warden

import (
	"log/slog"
	"sync/atomic"

	"github.com/wardenmq/warden/plugins/storage"
)

// Options contains configurable options for the security coordinator.
type Options struct {
	// Logger specifies a custom configured implementation of slog to override
	// the servers default logger configuration. If you wish to change the log
	// level, of the default logger, you can do so by setting:
	// 	w := warden.New(&warden.Options{Logger: slog.New(...)})
	Logger *slog.Logger

	// AllowAnonymous permits clients which present no username to connect
	// without consulting the plugin chain. ACL checks still apply.
	AllowAnonymous bool

	// Plugins is a list of plugins and their config values to be loaded
	// when Start is called. Plugins intended to act as default backends
	// (such as the password, acl, and psk file plugins) should be listed
	// first; checks are dispatched in list order.
	Plugins []PluginLoadConfig

	// ListenerHints maps listener ids to TLS-PSK hints, propagated to
	// plugins via PluginOptions.
	ListenerHints map[string]string
}

// Security coordinates authentication, access-control, and PSK lookups for a
// broker host. Checks walk the plugin chain in attachment order; the first
// non-deferring plugin settles each check, and if every plugin defers the
// check is denied.
type Security struct {
	Options *Options
	Log     *slog.Logger
	Chain   *Chain
	stopped int32 // atomic; non-zero once Stop has run
}

// New returns a new instance of the security coordinator. Plugins given in
// the options are not loaded until Start is called.
func New(opts *Options) *Security {
	if opts == nil {
		opts = new(Options)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Security{
		Options: opts,
		Log:     opts.Logger,
		Chain:   &Chain{Log: opts.Logger},
	}
}

// AddPlugin attaches a new plugin to the end of the chain and initialises it
// with the provided config value.
func (s *Security) AddPlugin(pl Plugin, config any) error {
	nl := s.Log.With("plugin", pl.ID())
	pl.SetOpts(nl, &PluginOptions{
		ListenerHints: s.Options.ListenerHints,
	})

	s.Log.Info("added plugin", "plugin", pl.ID())
	return s.Chain.Add(pl, config)
}

// Start loads the configured plugins, initialises security state across the
// chain, and notifies plugins that the host has started.
func (s *Security) Start() error {
	for _, lc := range s.Options.Plugins {
		err := s.AddPlugin(lc.Plugin, lc.Config)
		if err != nil {
			return err
		}
	}

	err := s.Chain.OnSecurityInit(false)
	if err != nil {
		return err
	}

	s.Chain.OnStarted()
	return nil
}

// Stop gracefully shuts down the chain: security state is cleaned up, plugins
// are notified of the stop, then stopped. Calling Stop more than once returns
// ErrSecurityStopped.
func (s *Security) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.stopped, 0, 1) {
		return ErrSecurityStopped
	}

	_ = s.Chain.OnSecurityCleanup(false)
	s.Chain.OnStopped()
	s.Chain.Stop()
	return nil
}

// Reload asks every plugin to discard and rebuild its security state, e.g.
// re-reading credential files after a configuration change.
func (s *Security) Reload() error {
	err := s.Chain.OnSecurityCleanup(true)
	if err != nil {
		return err
	}

	return s.Chain.OnSecurityInit(true)
}

// Authenticate checks a username/password pair for a connecting client,
// returning true if the client may connect. Anonymous clients are admitted
// without consulting the chain if AllowAnonymous is set.
func (s *Security) Authenticate(cl *Client, username, password []byte) bool {
	if len(username) == 0 && s.Options.AllowAnonymous {
		return true
	}

	d := s.Chain.OnAuthenticate(cl, username, password)
	if d == Defer {
		s.Log.Debug("authentication deferred by all plugins; denying",
			"username", string(username),
			"remote", cl.Remote)
	}

	return d == Allow
}

// ACLCheck checks topic access for a client, returning true if access is
// granted. access is AccessRead for subscriptions and AccessWrite for
// publishes.
func (s *Security) ACLCheck(cl *Client, access Access, msg *ACLMessage) bool {
	d := s.Chain.OnACLCheck(cl, access, msg)
	if d == Defer {
		s.Log.Debug("acl check deferred by all plugins; denying",
			"client", cl.ID,
			"topic", msg.Topic,
			"access", access.String())
	}

	return d == Allow
}

// PSKKey retrieves the hex-encoded pre-shared key for a client identity,
// returning false if no plugin holds a key for the identity.
func (s *Security) PSKKey(cl *Client, hint, identity string) (string, bool) {
	key, d := s.Chain.OnPSKKeyGet(cl, hint, identity)
	return key, d == Allow
}

// StoredUsers returns the user records of the first plugin holding any.
func (s *Security) StoredUsers() ([]storage.User, error) {
	return s.Chain.StoredUsers()
}
