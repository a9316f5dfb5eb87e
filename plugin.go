// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

package warden

import (
	"log/slog"

	"github.com/wardenmq/warden/plugins/storage"
)

const (
	SetOptions byte = iota
	OnStarted
	OnStopped
	OnSecurityInit
	OnSecurityCleanup
	OnAuthenticate
	OnACLCheck
	OnPSKKeyGet
	StoredUsers
)

// Plugin is the interface an authentication/access-control plugin must
// implement to be attached to a host. A plugin may provide any subset of
// the check methods; Provides indicates which capabilities it implements,
// and checks it does not provide are skipped by the dispatch chain.
type Plugin interface {
	// ID returns the id of the plugin.
	ID() string

	// Version returns the plugin interface version the plugin was built
	// against. It is checked once, before the plugin is initialised, and
	// must equal PluginVersion.
	Version() int

	// Provides indicates which plugin methods the plugin provides.
	Provides(b byte) bool

	// Init is called once when the plugin is attached, with any
	// plugin-specific config value. Options from a configuration file
	// arrive here.
	Init(config any) error

	// Stop is called once when the host shuts down, after
	// OnSecurityCleanup.
	Stop() error

	// SetOpts is called by the host to propagate the host logger and
	// inheritable values, and generally should not be called manually.
	SetOpts(l *slog.Logger, o *PluginOptions)

	// OnStarted is called when the host has started.
	OnStarted()

	// OnStopped is called when the host has stopped.
	OnStopped()

	// OnSecurityInit is called when the host initialises its security
	// state, once on startup with reload false, and again with reload
	// true each time the host is asked to reload its configuration.
	OnSecurityInit(reload bool) error

	// OnSecurityCleanup is called when the host discards its security
	// state, with reload true if a reload will follow.
	OnSecurityCleanup(reload bool) error

	// OnAuthenticate is called when a username/password pair must be
	// checked for a connecting client.
	OnAuthenticate(cl *Client, username, password []byte) Decision

	// OnACLCheck is called when topic access must be checked. access is
	// AccessRead for subscriptions and AccessWrite for publishes.
	OnACLCheck(cl *Client, access Access, msg *ACLMessage) Decision

	// OnPSKKeyGet is called when a client connects to a TLS-PSK listener,
	// to retrieve the pre-shared key for an identity. The key must be a
	// hexadecimal string with no leading "0x". hint is the psk hint of
	// the listener the client is connecting to.
	OnPSKKeyGet(cl *Client, hint, identity string) (string, Decision)

	// StoredUsers returns all user records known to the plugin, e.g.
	// from a credential store, for management and introspection.
	StoredUsers() ([]storage.User, error)
}

// PluginOptions contains values which are inherited from the host on initialisation.
type PluginOptions struct {
	// ListenerHints maps listener ids to their TLS-PSK hints, if the
	// host exposes any.
	ListenerHints map[string]string
}

// PluginLoadConfig pairs a plugin with a config value to be passed to its
// Init when the plugin is loaded.
type PluginLoadConfig struct {
	Plugin Plugin
	Config any
}

// PluginBase provides a set of default methods for each plugin method. It
// should be embedded in all plugins. All checks defer by default.
type PluginBase struct {
	Plugin
	Log  *slog.Logger
	Opts *PluginOptions
}

// ID returns the ID of the plugin.
func (p *PluginBase) ID() string {
	return "base"
}

// Version returns the plugin interface version the plugin was built against.
func (p *PluginBase) Version() int {
	return PluginVersion
}

// Provides indicates which methods a plugin provides. The default is none -
// this method should be overridden by the embedding plugin.
func (p *PluginBase) Provides(b byte) bool {
	return false
}

// Init performs any pre-start initializations for the plugin, such as
// connecting to databases or opening files.
func (p *PluginBase) Init(config any) error {
	return nil
}

// Stop is called to gracefully shut down the plugin.
func (p *PluginBase) Stop() error {
	return nil
}

// SetOpts is called by the host to propagate internal values and generally
// should not be called manually.
func (p *PluginBase) SetOpts(l *slog.Logger, opts *PluginOptions) {
	p.Log = l
	p.Opts = opts
}

// OnStarted is called when the host starts.
func (p *PluginBase) OnStarted() {}

// OnStopped is called when the host stops.
func (p *PluginBase) OnStopped() {}

// OnSecurityInit is called when the host initialises or reloads its security state.
func (p *PluginBase) OnSecurityInit(reload bool) error {
	return nil
}

// OnSecurityCleanup is called when the host discards its security state.
func (p *PluginBase) OnSecurityCleanup(reload bool) error {
	return nil
}

// OnAuthenticate is called when a username/password pair must be checked.
func (p *PluginBase) OnAuthenticate(cl *Client, username, password []byte) Decision {
	return Defer
}

// OnACLCheck is called when topic access must be checked.
func (p *PluginBase) OnACLCheck(cl *Client, access Access, msg *ACLMessage) Decision {
	return Defer
}

// OnPSKKeyGet is called when a pre-shared key must be retrieved for an identity.
func (p *PluginBase) OnPSKKeyGet(cl *Client, hint, identity string) (string, Decision) {
	return "", Defer
}

// StoredUsers returns all user records known to the plugin.
func (p *PluginBase) StoredUsers() (v []storage.User, err error) {
	return
}
