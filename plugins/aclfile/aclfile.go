// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

// Package aclfile provides an access-control plugin backed by a plain-text
// rules file. The file contains lines of the form:
//
//	topic [read|write|readwrite|deny] <filter>
//	user <username>
//	pattern [read|write|readwrite|deny] <filter>
//
// Topic lines before the first user line apply to anonymous clients. Topic
// lines after a user line apply to that user. Pattern lines apply to every
// client, with %c replaced by the client id and %u by the username before
// matching. Filters may contain + and # wildcards.
//
// A matching rule grants or denies the requested access; if no rule covers
// the topic the check is deferred, so denial of uncovered topics is left to
// the end of the plugin chain.
package aclfile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/wardenmq/warden"
	"github.com/wardenmq/warden/plugins/storage"
)

// rule is a single parsed topic or pattern line.
type rule struct {
	filter string
	access warden.Access // granted access bits; read 0x01, write 0x02
	deny   bool          // a deny rule refuses all access to the filter
}

// ACL holds the parsed contents of an acl file.
type ACL struct {
	general  []rule            // rules for anonymous clients
	users    map[string][]rule // per-user rules
	patterns []rule            // rules applied to all clients after substitution
}

// Parse reads acl file lines from r.
func Parse(r io.Reader) (*ACL, error) {
	acl := &ACL{users: map[string][]rule{}}
	var current string // username of the open user section, if any

	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "user":
			if len(fields) != 2 {
				return nil, fmt.Errorf("malformed user line %d", n)
			}
			current = fields[1]
		case "topic", "pattern":
			ru, err := parseRule(fields)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}

			switch {
			case fields[0] == "pattern":
				acl.patterns = append(acl.patterns, ru)
			case current == "":
				acl.general = append(acl.general, ru)
			default:
				acl.users[current] = append(acl.users[current], ru)
			}
		default:
			return nil, fmt.Errorf("unknown directive %q on line %d", fields[0], n)
		}
	}

	return acl, scanner.Err()
}

// parseRule parses the access and filter portion of a topic or pattern line.
// The access word may be omitted, meaning readwrite.
func parseRule(fields []string) (rule, error) {
	switch len(fields) {
	case 2:
		return rule{filter: fields[1], access: warden.AccessRead | warden.AccessWrite}, nil
	case 3:
		switch fields[1] {
		case "read":
			return rule{filter: fields[2], access: warden.AccessRead}, nil
		case "write":
			return rule{filter: fields[2], access: warden.AccessWrite}, nil
		case "readwrite":
			return rule{filter: fields[2], access: warden.AccessRead | warden.AccessWrite}, nil
		case "deny":
			return rule{filter: fields[2], deny: true}, nil
		}
		return rule{}, fmt.Errorf("unknown access type %q", fields[1])
	}

	return rule{}, fmt.Errorf("malformed %s line", fields[0])
}

// Check resolves the requested access for a client against the parsed rules.
func (a *ACL) Check(cl *warden.Client, access warden.Access, topic string) warden.Decision {
	rules := a.general
	if len(cl.Username) > 0 {
		rules = a.users[string(cl.Username)]
	}

	for _, ru := range rules {
		if d, ok := ru.match(access, topic); ok {
			return d
		}
	}

	for _, ru := range a.patterns {
		sub := ru
		sub.filter = strings.ReplaceAll(sub.filter, "%c", cl.ID)
		sub.filter = strings.ReplaceAll(sub.filter, "%u", string(cl.Username))
		if d, ok := sub.match(access, topic); ok {
			return d
		}
	}

	return warden.Defer
}

// match reports whether the rule covers the topic, and the resulting decision.
func (r rule) match(access warden.Access, topic string) (warden.Decision, bool) {
	if _, ok := storage.MatchTopic(r.filter, topic); !ok {
		return warden.Defer, false
	}

	if r.deny {
		return warden.Deny, true
	}

	if r.access&access != 0 {
		return warden.Allow, true
	}

	// The rule covers the topic but does not grant the requested access;
	// later rules may still grant it.
	return warden.Defer, false
}

// Options contains configuration settings for the acl file plugin.
type Options struct {
	// Path is the location of the acl file.
	Path string `yaml:"path" json:"path"`

	// Data is inline acl file data, used instead of Path if set.
	Data []byte `yaml:"data" json:"data"`
}

// Plugin is an access-control plugin which checks topic access against an
// acl file.
type Plugin struct {
	warden.PluginBase
	sync.RWMutex
	config *Options
	acl    *ACL
}

// ID returns the ID of the plugin.
func (p *Plugin) ID() string {
	return "acl-file"
}

// Provides indicates which plugin methods this plugin provides.
func (p *Plugin) Provides(b byte) bool {
	return bytes.Contains([]byte{
		warden.OnACLCheck,
		warden.OnSecurityInit,
		warden.OnSecurityCleanup,
	}, []byte{b})
}

// Init configures the plugin and performs the initial load.
func (p *Plugin) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return warden.ErrInvalidConfigType
	}

	if config == nil {
		config = new(Options)
	}

	p.config = config.(*Options)
	return p.load()
}

// OnSecurityInit re-reads the acl file on reload.
func (p *Plugin) OnSecurityInit(reload bool) error {
	if !reload {
		return nil
	}

	return p.load()
}

// OnSecurityCleanup discards the parsed rules.
func (p *Plugin) OnSecurityCleanup(reload bool) error {
	p.Lock()
	defer p.Unlock()
	p.acl = nil
	return nil
}

// OnACLCheck resolves topic access against the acl file rules.
func (p *Plugin) OnACLCheck(cl *warden.Client, access warden.Access, msg *warden.ACLMessage) warden.Decision {
	p.RLock()
	acl := p.acl
	p.RUnlock()
	if acl == nil {
		return warden.Defer
	}

	d := acl.Check(cl, access, msg.Topic)
	if d == warden.Deny {
		p.Log.Debug("client denied by acl file",
			"client", cl.ID,
			"username", string(cl.Username),
			"topic", msg.Topic,
			"access", access.String())
	}

	return d
}

// load reads the configured file or inline data into the rule set.
func (p *Plugin) load() error {
	var data []byte
	var err error
	switch {
	case len(p.config.Data) > 0:
		data = p.config.Data
	case p.config.Path != "":
		data, err = os.ReadFile(p.config.Path)
		if err != nil {
			return fmt.Errorf("failed reading acl file: %w", err)
		}
	default:
		return nil // nothing configured; all checks defer
	}

	acl, err := Parse(bytes.NewReader(data))
	if err != nil {
		return err
	}

	p.Lock()
	p.acl = acl
	p.Unlock()

	p.Log.Info("loaded acl file",
		"users", len(acl.users),
		"general", len(acl.general),
		"patterns", len(acl.patterns))

	return nil
}
