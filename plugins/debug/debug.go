// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

// Package debug provides a tracing plugin which logs every check passing
// through the chain and then defers, so that it never influences decisions.
// Attach it first to observe the inputs every other plugin will see.
package debug

import (
	"github.com/rs/xid"

	"github.com/wardenmq/warden"
)

// Options contains configuration settings for the debug output.
type Options struct {
	ShowPasswords bool // show connecting user passwords (default false)
	ShowPayloads  bool // include message payloads in acl check logs (default false)
}

// Plugin is a debugging plugin which logs additional low-level information
// about each check.
type Plugin struct {
	warden.PluginBase
	config *Options
}

// ID returns the ID of the plugin.
func (p *Plugin) ID() string {
	return "debug"
}

// Provides indicates that this plugin provides all methods.
func (p *Plugin) Provides(b byte) bool {
	return true
}

// Init is called when the plugin is initialized.
func (p *Plugin) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return warden.ErrInvalidConfigType
	}

	if config == nil {
		config = new(Options)
	}

	p.config = config.(*Options)

	return nil
}

// Stop is called when the plugin is stopped.
func (p *Plugin) Stop() error {
	p.Log.Debug("", "method", "Stop")
	return nil
}

// OnStarted is called when the host starts.
func (p *Plugin) OnStarted() {
	p.Log.Debug("", "method", "OnStarted")
}

// OnStopped is called when the host stops.
func (p *Plugin) OnStopped() {
	p.Log.Debug("", "method", "OnStopped")
}

// OnSecurityInit is called when the host initialises or reloads security state.
func (p *Plugin) OnSecurityInit(reload bool) error {
	p.Log.Debug("", "method", "OnSecurityInit", "reload", reload)
	return nil
}

// OnSecurityCleanup is called when the host discards security state.
func (p *Plugin) OnSecurityCleanup(reload bool) error {
	p.Log.Debug("", "method", "OnSecurityCleanup", "reload", reload)
	return nil
}

// OnAuthenticate logs the authentication attempt and defers.
func (p *Plugin) OnAuthenticate(cl *warden.Client, username, password []byte) warden.Decision {
	pw := "[redacted]"
	if p.config.ShowPasswords {
		pw = string(password)
	}

	p.Log.Debug("auth check",
		"check", xid.New().String(),
		"client", cl.ID,
		"remote", cl.Remote,
		"username", string(username),
		"password", pw)

	return warden.Defer
}

// OnACLCheck logs the acl check and defers.
func (p *Plugin) OnACLCheck(cl *warden.Client, access warden.Access, msg *warden.ACLMessage) warden.Decision {
	args := []any{
		"check", xid.New().String(),
		"client", cl.ID,
		"username", string(cl.Username),
		"topic", msg.Topic,
		"access", access.String(),
		"qos", msg.Qos,
		"retain", msg.Retain,
	}
	if p.config.ShowPayloads {
		args = append(args, "payload", string(msg.Payload))
	}

	p.Log.Debug("acl check", args...)

	return warden.Defer
}

// OnPSKKeyGet logs the psk lookup and defers.
func (p *Plugin) OnPSKKeyGet(cl *warden.Client, hint, identity string) (string, warden.Decision) {
	p.Log.Debug("psk lookup",
		"check", xid.New().String(),
		"client", cl.ID,
		"hint", hint,
		"identity", identity)

	return "", warden.Defer
}
