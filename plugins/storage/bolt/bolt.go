// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

// Package bolt provides a credential store plugin backed by a boltdb file.
// User records carry a password hash, optional superuser flag, topic access
// rules, and an optional pre-shared key, and may be managed at runtime via
// UpsertUser and DeleteUser.
package bolt

import (
	"bytes"
	"errors"
	"time"

	"github.com/jinzhu/copier"
	"go.etcd.io/bbolt"

	"github.com/wardenmq/warden"
	"github.com/wardenmq/warden/plugins/pwfile"
	"github.com/wardenmq/warden/plugins/storage"
)

var (
	ErrBucketNotFound = errors.New("bucket not found")
)

const (
	// defaultDbFile is the default file path for the boltdb file.
	defaultDbFile = ".bolt"

	// defaultTimeout is the default time to hold a connection to the file.
	defaultTimeout = 250 * time.Millisecond

	defaultBucket = "warden"
)

// userKey returns a primary key for a user record.
func userKey(username string) []byte {
	return []byte(storage.UserKey + "_" + username)
}

// Options contains configuration settings for the bolt instance.
type Options struct {
	Options *bbolt.Options
	Bucket  string `yaml:"bucket" json:"bucket"`
	Path    string `yaml:"path" json:"path"`
}

// Plugin is a credential store plugin using a boltdb file store as a backend.
type Plugin struct {
	warden.PluginBase
	config *Options  // options for configuring the boltdb instance.
	db     *bbolt.DB // the boltdb instance.
}

// ID returns the id of the plugin.
func (p *Plugin) ID() string {
	return "bolt-db"
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

// Init initializes and connects to the boltdb instance.
func (p *Plugin) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return warden.ErrInvalidConfigType
	}

	if config == nil {
		config = new(Options)
	}

	p.config = config.(*Options)
	if p.config.Options == nil {
		p.config.Options = &bbolt.Options{
			Timeout: defaultTimeout,
		}
	}
	if len(p.config.Path) == 0 {
		p.config.Path = defaultDbFile
	}

	if len(p.config.Bucket) == 0 {
		p.config.Bucket = defaultBucket
	}

	var err error
	p.db, err = bbolt.Open(p.config.Path, 0600, p.config.Options)
	if err != nil {
		return err
	}

	return p.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(p.config.Bucket))
		return err
	})
}

// Stop closes the boltdb instance.
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

	return p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(p.config.Bucket))
		if b == nil {
			return ErrBucketNotFound
		}

		return b.Put(userKey(u.Username), data)
	})
}

// DeleteUser removes a user record from the store.
func (p *Plugin) DeleteUser(username string) error {
	if p.db == nil {
		return storage.ErrDBFileNotOpen
	}

	return p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(p.config.Bucket))
		if b == nil {
			return ErrBucketNotFound
		}

		return b.Delete(userKey(username))
	})
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

	var stored storage.User
	err = p.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(p.config.Bucket))
		if b == nil {
			return ErrBucketNotFound
		}

		data := b.Get(userKey(username))
		if data == nil {
			return storage.ErrUserNotFound
		}

		return stored.UnmarshalBinary(data)
	})
	if err != nil {
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

	err = p.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(p.config.Bucket))
		if b == nil {
			return ErrBucketNotFound
		}

		return b.ForEach(func(k, data []byte) error {
			if !bytes.HasPrefix(k, []byte(storage.UserKey+"_")) {
				return nil
			}

			var d storage.User
			if err := d.UnmarshalBinary(data); err != nil {
				return err
			}

			v = append(v, d)
			return nil
		})
	})

	return v, err
}
