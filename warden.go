// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

// Package warden provides a pluggable authentication and access-control layer
// for message broker hosts. A host embeds a Security coordinator and attaches
// plugins which answer username/password checks, per-topic ACL checks, and
// TLS-PSK key lookups. Plugins are consulted in the order they were attached;
// the first plugin to return a decision other than Defer settles the check,
// and if every plugin defers the check is denied.
package warden

import (
	"errors"
)

const (
	// PluginVersion is the plugin interface version supported by this
	// package. Chain.Add refuses plugins reporting any other version.
	PluginVersion = 2

	// MaxPSKKeyLen is the maximum permitted length of a hex-encoded
	// pre-shared key returned by a plugin.
	MaxPSKKeyLen = 512
)

const (
	AccessNone  Access = 0x00 // no access
	AccessRead  Access = 0x01 // subscribe/read access
	AccessWrite Access = 0x02 // publish/write access
)

// Access indicates the type of topic access being checked.
type Access byte

// String returns a human-readable name for the access type.
func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	}
	return "none"
}

const (
	// Defer indicates the checker declines to answer and the next checker
	// in the chain should be consulted. It is the zero value; a plugin
	// which does not implement a check defers it.
	Defer Decision = iota

	// Allow indicates the check passed.
	Allow

	// Deny indicates the check failed.
	Deny

	// Error indicates an application-specific failure occurred while
	// performing the check. The dispatcher resolves it to a denial.
	Error
)

// Decision is the outcome of an authentication, ACL, or PSK check.
type Decision byte

// String returns a human-readable name for the decision.
func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case Error:
		return "error"
	}
	return "defer"
}

var (
	// ErrInvalidConfigType indicates a different type of config value was expected to what was received.
	ErrInvalidConfigType = errors.New("invalid config type provided")

	// ErrPluginVersion indicates a plugin was built against an unsupported plugin interface version.
	ErrPluginVersion = errors.New("unsupported plugin version")

	// ErrSecurityStopped indicates the security coordinator has already been stopped.
	ErrSecurityStopped = errors.New("security already stopped")
)

// Client describes the connecting client on whose behalf a check is made.
// It is a snapshot of connection identity, not a live connection handle.
type Client struct {
	ID              string // client id presented during connection
	Remote          string // remote network address
	Listener        string // id of the listener the client connected to
	Username        []byte // username presented during connection
	ProtocolVersion byte   // protocol version of the connecting client
	TLS             bool   // true if the connection is TLS-secured
}

// ACLMessage carries the message attributes relevant to an ACL check.
type ACLMessage struct {
	Topic   string // topic the message is published or subscribed to
	Payload []byte // message payload, if any (publish checks only)
	Qos     byte   // quality of service level
	Retain  bool   // true if the message is to be retained
}
