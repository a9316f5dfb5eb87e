// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

package auth

import (
	"bytes"

	"github.com/wardenmq/warden"
)

// AllowAll is an authentication plugin which allows connection access for all
// users and read and write access to all topics. It must only be used on
// hosts where open access is intended.
type AllowAll struct {
	warden.PluginBase
}

// ID returns the ID of the plugin.
func (p *AllowAll) ID() string {
	return "allow-all-auth"
}

// Provides indicates which plugin methods this plugin provides.
func (p *AllowAll) Provides(b byte) bool {
	return bytes.Contains([]byte{
		warden.OnAuthenticate,
		warden.OnACLCheck,
	}, []byte{b})
}

// OnAuthenticate returns allow for all requests.
func (p *AllowAll) OnAuthenticate(cl *warden.Client, username, password []byte) warden.Decision {
	return warden.Allow
}

// OnACLCheck returns allow for all checks.
func (p *AllowAll) OnACLCheck(cl *warden.Client, access warden.Access, msg *warden.ACLMessage) warden.Decision {
	return warden.Allow
}
