// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

// Package badger provides a credential store plugin backed by a BadgerDB
// file store.
package badger

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/jinzhu/copier"

	"github.com/wardenmq/warden"
	"github.com/wardenmq/warden/plugins/pwfile"
	"github.com/wardenmq/warden/plugins/storage"
)

const (
	// defaultDbFile is the default file path for the badger db file.
	defaultDbFile         = ".badger"
	defaultGcInterval     = 5 * 60 // gc interval in seconds
	defaultGcDiscardRatio = 0.5
)

// userKey returns a primary key for a user record.
func userKey(username string) string {
	return storage.UserKey + "_" + username
}

// Options contains configuration settings for the BadgerDB instance.
type Options struct {
	Options *badgerdb.Options
	Path    string `yaml:"path" json:"path"`
	// GcDiscardRatio specifies the ratio of log discard compared to the maximum possible log discard.
	// Setting it to a higher value would result in fewer space reclaims, while setting it to a lower value
	// would result in more space reclaims at the cost of increased activity on the LSM tree.
	// discardRatio must be in the range (0.0, 1.0), both endpoints excluded, otherwise, it will be set to the default value of 0.5.
	GcDiscardRatio float64 `yaml:"gc_discard_ratio" json:"gc_discard_ratio"`
	GcInterval     int64   `yaml:"gc_interval" json:"gc_interval"`
}

// Plugin is a credential store plugin using a BadgerDB file store as a backend.
type Plugin struct {
	warden.PluginBase
	config   *Options     // options for configuring the BadgerDB instance.
	gcTicker *time.Ticker // ticker for BadgerDB garbage collection.
	db       *badgerdb.DB // the BadgerDB instance.
}

// ID returns the id of the plugin.
func (p *Plugin) ID() string {
	return "badger-db"
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

// gcLoop periodically runs the garbage collection process to reclaim space
// in the value log files.
func (p *Plugin) gcLoop() {
	for range p.gcTicker.C {
	again:
		// Run the garbage collection process with a threshold.
		// If the process returns nil (success), repeat the process.
		err := p.db.RunValueLogGC(p.config.GcDiscardRatio)
		if err == nil {
			goto again
		}
	}
}

// Init initializes and connects to the badger instance.
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

	if p.config.GcInterval == 0 {
		p.config.GcInterval = defaultGcInterval
	}

	if p.config.GcDiscardRatio <= 0.0 || p.config.GcDiscardRatio >= 1.0 {
		p.config.GcDiscardRatio = defaultGcDiscardRatio
	}

	if p.config.Options == nil {
		defaultOpts := badgerdb.DefaultOptions(p.config.Path)
		p.config.Options = &defaultOpts
	}
	p.config.Options.Logger = p

	var err error
	p.db, err = badgerdb.Open(*p.config.Options)
	if err != nil {
		return err
	}

	p.gcTicker = time.NewTicker(time.Duration(p.config.GcInterval) * time.Second)
	go p.gcLoop()

	return nil
}

// Stop closes the badger instance.
func (p *Plugin) Stop() error {
	if p.gcTicker != nil {
		p.gcTicker.Stop()
	}
	return p.db.Close()
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
	return p.setKv(userKey(u.Username), &u)
}

// DeleteUser removes a user record from the store.
func (p *Plugin) DeleteUser(username string) error {
	if p.db == nil {
		return storage.ErrDBFileNotOpen
	}

	return p.delKv(userKey(username))
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
	err = p.getKv(userKey(username), &stored)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return u, storage.ErrUserNotFound
	} else if err != nil {
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

	v = make([]storage.User, 0)
	err = p.iterKv(storage.UserKey, func(value []byte) error {
		obj := storage.User{}
		err = obj.UnmarshalBinary(value)
		if err == nil {
			v = append(v, obj)
		}
		return err
	})
	return
}

// Errorf satisfies the badger interface for an error logger.
func (p *Plugin) Errorf(m string, v ...any) {
	p.Log.Error(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...), "v", v)
}

// Warningf satisfies the badger interface for a warning logger.
func (p *Plugin) Warningf(m string, v ...any) {
	p.Log.Warn(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...), "v", v)
}

// Infof satisfies the badger interface for an info logger.
func (p *Plugin) Infof(m string, v ...any) {
	p.Log.Info(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...), "v", v)
}

// Debugf satisfies the badger interface for a debug logger.
func (p *Plugin) Debugf(m string, v ...any) {
	p.Log.Debug(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...), "v", v)
}

// setKv stores a key-value pair in the database.
func (p *Plugin) setKv(k string, v storage.Serializable) error {
	return p.db.Update(func(txn *badgerdb.Txn) error {
		data, err := v.MarshalBinary()
		if err != nil {
			return err
		}
		return txn.Set([]byte(k), data)
	})
}

// delKv deletes a key-value pair from the database.
func (p *Plugin) delKv(k string) error {
	return p.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(k))
	})
}

// getKv retrieves the value for a key from the database.
func (p *Plugin) getKv(k string, v storage.Serializable) error {
	return p.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(k))
		if err != nil {
			return err
		}

		return item.Value(func(data []byte) error {
			return v.UnmarshalBinary(data)
		})
	})
}

// iterKv iterates all values whose keys carry the given prefix.
func (p *Plugin) iterKv(prefix string, fn func(value []byte) error) error {
	return p.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()

		pfx := []byte(prefix)
		for it.Seek(pfx); it.ValidForPrefix(pfx); it.Next() {
			err := it.Item().Value(func(data []byte) error {
				return fn(data)
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
}
