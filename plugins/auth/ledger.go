// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

package auth

import (
	"encoding/json"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/wardenmq/warden"
	"github.com/wardenmq/warden/plugins/storage"
)

const (
	Deny      Access = iota // user cannot access the topic
	ReadOnly                // user can only subscribe to the topic
	WriteOnly               // user can only publish to the topic
	ReadWrite               // user can both publish and subscribe to the topic
)

// Access determines the read/write privileges for an ACL rule.
type Access byte

// Users contains a map of access rules for specific users, keyed on username.
type Users map[string]UserRule

// UserRule defines a set of access rules for a specific user.
type UserRule struct {
	Username  RString `json:"username,omitempty" yaml:"username,omitempty"`   // the username of a user
	Password  RString `json:"password,omitempty" yaml:"password,omitempty"`   // the password of a user
	ACL       Filters `json:"acl,omitempty" yaml:"acl,omitempty"`             // filters to match, if desired
	Superuser bool    `json:"superuser,omitempty" yaml:"superuser,omitempty"` // superusers bypass acl checks
	Disallow  bool    `json:"disallow,omitempty" yaml:"disallow,omitempty"`   // allow or disallow the user
}

// AuthRules defines generic access rules applicable to all users.
type AuthRules []AuthRule

type AuthRule struct {
	Client   RString `json:"client,omitempty" yaml:"client,omitempty"`     // the id of a connecting client
	Username RString `json:"username,omitempty" yaml:"username,omitempty"` // the username of a user
	Remote   RString `json:"remote,omitempty" yaml:"remote,omitempty"`     // remote address or
	Password RString `json:"password,omitempty" yaml:"password,omitempty"` // the password of a user
	Allow    bool    `json:"allow,omitempty" yaml:"allow,omitempty"`       // allow or disallow the users
}

// ACLRules defines generic topic or filter access rules applicable to all users.
type ACLRules []ACLRule

// ACLRule defines access rules for a specific topic or filter.
type ACLRule struct {
	Client   RString `json:"client,omitempty" yaml:"client,omitempty"`     // the id of a connecting client
	Username RString `json:"username,omitempty" yaml:"username,omitempty"` // the username of a user
	Remote   RString `json:"remote,omitempty" yaml:"remote,omitempty"`     // remote address or
	Filters  Filters `json:"filters,omitempty" yaml:"filters,omitempty"`   // filters to match
}

// Filters is a map of Access rules keyed on filter.
type Filters map[RString]Access

// RString is a rule value string.
type RString string

// Matches returns true if the rule matches a given string.
func (r RString) Matches(a string) bool {
	rr := string(r)
	if r == "" || r == "*" || a == rr {
		return true
	}

	i := strings.Index(rr, "*")
	if i > 0 && len(a) > i && strings.Compare(rr[:i], a[:i]) == 0 {
		return true
	}

	return false
}

// FilterMatches returns true if a filter matches a topic rule.
func (r RString) FilterMatches(a string) bool {
	_, ok := storage.MatchTopic(string(r), a)
	return ok
}

// allows returns true if the access level permits the requested access type.
func (a Access) allows(access warden.Access) bool {
	if access == warden.AccessWrite {
		return a == WriteOnly || a == ReadWrite
	}

	return a == ReadOnly || a == ReadWrite
}

// Ledger is an auth ledger containing access rules for users and topics.
type Ledger struct {
	sync.Mutex `json:"-" yaml:"-"`
	Users      Users     `json:"users" yaml:"users"`
	Auth       AuthRules `json:"auth" yaml:"auth"`
	ACL        ACLRules  `json:"acl" yaml:"acl"`
}

// Update updates the internal values of the ledger.
func (l *Ledger) Update(ln *Ledger) {
	l.Lock()
	defer l.Unlock()
	l.Users = ln.Users
	l.Auth = ln.Auth
	l.ACL = ln.ACL
}

// AuthOk indicates whether the rules allow the user to authenticate. If no
// user or rule matches the credentials, the check is deferred.
func (l *Ledger) AuthOk(cl *warden.Client, username, password []byte) (n int, d warden.Decision) {
	// If the users map is set, always check for a predefined user first instead
	// of iterating through global rules.
	if l.Users != nil {
		if u, ok := l.Users[string(username)]; ok &&
			u.Password != "" &&
			u.Password == RString(password) {
			if u.Disallow {
				return 0, warden.Deny
			}
			return 0, warden.Allow
		}
	}

	// If there's no users map, or no user was found, attempt to find a matching
	// rule (which may also contain a user).
	for n, rule := range l.Auth {
		if rule.Client.Matches(cl.ID) &&
			rule.Username.Matches(string(username)) &&
			rule.Password.Matches(string(password)) &&
			rule.Remote.Matches(cl.Remote) {
			if rule.Allow {
				return n, warden.Allow
			}
			return n, warden.Deny
		}
	}

	return 0, warden.Defer
}

// ACLOk indicates whether the rules allow the user to read or write to a
// specific filter or topic respectively, based on the requested access. If no
// rule covers the topic, the check is deferred.
func (l *Ledger) ACLOk(cl *warden.Client, access warden.Access, msg *warden.ACLMessage) (n int, d warden.Decision) {
	// If the users map is set, always check for a predefined user first instead
	// of iterating through global rules.
	if l.Users != nil {
		if u, ok := l.Users[string(cl.Username)]; ok {
			if u.Superuser {
				return 0, warden.Allow
			}

			for filter, a := range u.ACL {
				if filter.FilterMatches(msg.Topic) {
					if a.allows(access) {
						return 0, warden.Allow
					}
					return 0, warden.Deny
				}
			}
		}
	}

	for n, rule := range l.ACL {
		if rule.Client.Matches(cl.ID) &&
			rule.Username.Matches(string(cl.Username)) &&
			rule.Remote.Matches(cl.Remote) {
			if len(rule.Filters) == 0 {
				return n, warden.Allow
			}

			for filter, a := range rule.Filters {
				if a.allows(access) && filter.FilterMatches(msg.Topic) {
					return n, warden.Allow
				}
			}

			// A rule covering the topic which does not grant the requested
			// access denies it outright.
			for filter := range rule.Filters {
				if filter.FilterMatches(msg.Topic) {
					return n, warden.Deny
				}
			}
		}
	}

	return 0, warden.Defer
}

// ToJSON encodes the values into a JSON string.
func (l *Ledger) ToJSON() (data []byte, err error) {
	return json.Marshal(l)
}

// ToYAML encodes the values into a YAML string.
func (l *Ledger) ToYAML() (data []byte, err error) {
	return yaml.Marshal(l)
}

// Unmarshal decodes a JSON or YAML string (such as a rule config from a file) into a struct.
func (l *Ledger) Unmarshal(data []byte) error {
	l.Lock()
	defer l.Unlock()
	if len(data) == 0 {
		return nil
	}

	if data[0] == '{' {
		return json.Unmarshal(data, l)
	}

	return yaml.Unmarshal(data, &l)
}
