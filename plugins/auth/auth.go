// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

package auth

import (
	"bytes"

	"github.com/wardenmq/warden"
)

// Options contains the configuration/rules data for the auth ledger.
type Options struct {
	Data   []byte
	Ledger *Ledger
}

// Plugin is an authentication plugin which implements an auth ledger.
type Plugin struct {
	warden.PluginBase
	config *Options
	ledger *Ledger
}

// ID returns the ID of the plugin.
func (p *Plugin) ID() string {
	return "auth-ledger"
}

// Provides indicates which plugin methods this plugin provides.
func (p *Plugin) Provides(b byte) bool {
	return bytes.Contains([]byte{
		warden.OnAuthenticate,
		warden.OnACLCheck,
	}, []byte{b})
}

// Init configures the plugin with the auth ledger to be used for checking.
func (p *Plugin) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return warden.ErrInvalidConfigType
	}

	if config == nil {
		config = new(Options)
	}

	p.config = config.(*Options)

	var err error
	if p.config.Ledger != nil {
		p.ledger = p.config.Ledger
	} else if len(p.config.Data) > 0 {
		p.ledger = new(Ledger)
		err = p.ledger.Unmarshal(p.config.Data)
	}
	if err != nil {
		return err
	}

	if p.ledger == nil {
		p.ledger = &Ledger{
			Auth: AuthRules{},
			ACL:  ACLRules{},
		}
	}

	p.Log.Info("loaded auth rules",
		"users", len(p.ledger.Users),
		"authentication", len(p.ledger.Auth),
		"acl", len(p.ledger.ACL))

	return nil
}

// Ledger returns the ledger currently in use, e.g. for live updates.
func (p *Plugin) Ledger() *Ledger {
	return p.ledger
}

// OnAuthenticate returns the decision of the auth ledger rules for the
// connecting client, deferring if no rule matches.
func (p *Plugin) OnAuthenticate(cl *warden.Client, username, password []byte) warden.Decision {
	n, d := p.ledger.AuthOk(cl, username, password)
	if d == warden.Deny {
		p.Log.Info("client failed authentication check",
			"username", string(username),
			"remote", cl.Remote,
			"rule", n)
	}

	return d
}

// OnACLCheck returns the decision of the acl ledger rules for read or write
// access to a topic, deferring if no rule covers the topic.
func (p *Plugin) OnACLCheck(cl *warden.Client, access warden.Access, msg *warden.ACLMessage) warden.Decision {
	n, d := p.ledger.ACLOk(cl, access, msg)
	if d == warden.Deny {
		p.Log.Debug("client failed allowed ACL check",
			"client", cl.ID,
			"username", string(cl.Username),
			"topic", msg.Topic,
			"access", access.String(),
			"rule", n)
	}

	return d
}
