// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

// Package pebble provides a credential store plugin backed by a pebble DB
// file store.
package pebble

import (
	"bytes"
	"errors"
	"strings"

	pebbledb "github.com/cockroachdb/pebble"
	"github.com/jinzhu/copier"

	"github.com/wardenmq/warden"
	"github.com/wardenmq/warden/plugins/pwfile"
	"github.com/wardenmq/warden/plugins/storage"
)

const (
	// defaultDbFile is the default file path for the pebble db file.
	defaultDbFile = ".pebble"
)

const (
	NoSync = "NoSync" // NoSync specifies the default write options for writes which do not synchronize to disk.
	Sync   = "Sync"   // Sync specifies the default write options for writes which synchronize to disk.
)

// userKey returns a primary key for a user record.
func userKey(username string) []byte {
	return []byte(storage.UserKey + "_" + username)
}

// keyUpperBound returns the upper bound for a given byte slice by incrementing the last byte.
// It returns nil if all bytes are incremented and equal to 0.
func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i] = end[i] + 1
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Options contains configuration settings for the pebble DB instance.
type Options struct {
	Options *pebbledb.Options
	Mode    string `yaml:"mode" json:"mode"`
	Path    string `yaml:"path" json:"path"`
}

// Plugin is a credential store plugin using a pebble DB file store as a backend.
type Plugin struct {
	warden.PluginBase
	config *Options               // options for configuring the pebble DB instance.
	db     *pebbledb.DB           // the pebble DB instance
	mode   *pebbledb.WriteOptions // mode holds the optional per-query parameters for Set and Delete operations
}

// ID returns the id of the plugin.
func (p *Plugin) ID() string {
	return "pebble-db"
}

// Provides indicates which plugin methods this plugin provides.
func (p *Plugin) Provides(b byte) bool {
	return bytes.Contains([]byte{
		warden.OnAuthenticate,
		warden.OnACLCheck,
		warden.OnPSKKeyGet,
		warden.StoredUsers,
	}, []byte{b})
}

// Init initializes and connects to the pebble instance.
func (p *Plugin) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return warden.ErrInvalidConfigType
	}

	if config == nil {
		p.config = new(Options)
	} else {
		p.config = config.(*Options)
	}

	if len(p.config.Path) == 0 {
		p.config.Path = defaultDbFile
	}

	if p.config.Options == nil {
		p.config.Options = &pebbledb.Options{}
	}

	p.mode = pebbledb.NoSync
	if strings.EqualFold(p.config.Mode, "Sync") {
		p.mode = pebbledb.Sync
	}

	var err error
	p.db, err = pebbledb.Open(p.config.Path, p.config.Options)
	if err != nil {
		return err
	}

	return nil
}

// Stop closes the pebble instance.
func (p *Plugin) Stop() error {
	err := p.db.Close()
	p.db = nil
	return err
}

// OnAuthenticate checks the presented credentials against the stored user
// record, deferring for unknown usernames.
func (p *Plugin) OnAuthenticate(cl *warden.Client, username, password []byte) warden.Decision {
	u, err := p.GetUser(string(username))
	if errors.Is(err, storage.ErrUserNotFound) {
		return warden.Defer
	} else if err != nil {
		p.Log.Error("failed reading user record", "error", err, "username", string(username))
		return warden.Error
	}

	if u.Disabled || u.PasswordHash == "" {
		return warden.Deny
	}

	match, err := pwfile.CheckPassword(u.PasswordHash, password)
	if err != nil {
		p.Log.Warn("unusable stored password hash", "error", err, "username", string(username))
		return warden.Error
	}

	if !match {
		return warden.Deny
	}

	return warden.Allow
}

// OnACLCheck resolves topic access from the stored user record, deferring
// for unknown usernames and uncovered topics. Superusers are granted all
// access.
func (p *Plugin) OnACLCheck(cl *warden.Client, access warden.Access, msg *warden.ACLMessage) warden.Decision {
	u, err := p.GetUser(string(cl.Username))
	if errors.Is(err, storage.ErrUserNotFound) {
		return warden.Defer
	} else if err != nil {
		p.Log.Error("failed reading user record", "error", err, "username", string(cl.Username))
		return warden.Error
	}

	if u.Disabled {
		return warden.Deny
	}

	if u.Superuser {
		return warden.Allow
	}

	for _, rule := range u.ACL {
		if _, ok := storage.MatchTopic(rule.Filter, msg.Topic); ok {
			if rule.Access&byte(access) != 0 {
				return warden.Allow
			}
			return warden.Deny
		}
	}

	return warden.Defer
}

// OnPSKKeyGet returns the stored pre-shared key for an identity, deferring
// for identities with no key on record.
func (p *Plugin) OnPSKKeyGet(cl *warden.Client, hint, identity string) (string, warden.Decision) {
	u, err := p.GetUser(identity)
	if errors.Is(err, storage.ErrUserNotFound) {
		return "", warden.Defer
	} else if err != nil {
		p.Log.Error("failed reading user record", "error", err, "identity", identity)
		return "", warden.Error
	}

	if u.Disabled || u.PSKKey == "" {
		return "", warden.Defer
	}

	return u.PSKKey, warden.Allow
}

// UpsertUser writes a user record to the store, replacing any existing
// record for the username.
func (p *Plugin) UpsertUser(u storage.User) error {
	if p.db == nil {
		return storage.ErrDBFileNotOpen
	}

	u.T = storage.UserKey
	data, err := u.MarshalBinary()
	if err != nil {
		return err
	}

	return p.db.Set(userKey(u.Username), data, p.mode)
}

// DeleteUser removes a user record from the store.
func (p *Plugin) DeleteUser(username string) error {
	if p.db == nil {
		return storage.ErrDBFileNotOpen
	}

	return p.db.Delete(userKey(username), p.mode)
}

// SetACL replaces the stored topic access rules for a username.
func (p *Plugin) SetACL(username string, acl []storage.ACL) error {
	u, err := p.GetUser(username)
	if err != nil {
		return err
	}

	u.ACL = acl
	return p.UpsertUser(u)
}

// GetUser returns a detached copy of the user record for a username.
func (p *Plugin) GetUser(username string) (u storage.User, err error) {
	if p.db == nil {
		return u, storage.ErrDBFileNotOpen
	}

	data, closer, err := p.db.Get(userKey(username))
	if errors.Is(err, pebbledb.ErrNotFound) {
		return u, storage.ErrUserNotFound
	} else if err != nil {
		return u, err
	}
	defer closer.Close()

	var stored storage.User
	if err = stored.UnmarshalBinary(data); err != nil {
		return u, err
	}

	// Return a deep copy so callers cannot mutate cached slices.
	err = copier.Copy(&u, &stored)
	return u, err
}

// StoredUsers returns all user records from the store.
func (p *Plugin) StoredUsers() (v []storage.User, err error) {
	if p.db == nil {
		return v, storage.ErrDBFileNotOpen
	}

	pfx := []byte(storage.UserKey + "_")
	iter, err := p.db.NewIter(&pebbledb.IterOptions{
		LowerBound: pfx,
		UpperBound: keyUpperBound(pfx),
	})
	if err != nil {
		return v, err
	}
	defer iter.Close()

	v = make([]storage.User, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		obj := storage.User{}
		if err = obj.UnmarshalBinary(iter.Value()); err != nil {
			return v, err
		}
		v = append(v, obj)
	}

	return v, nil
}
