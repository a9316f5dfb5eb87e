// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

// Package redis provides a credential store plugin backed by a Redis
// instance, suitable for sharing user records between multiple hosts.
package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	redis "github.com/go-redis/redis/v8"
	"github.com/jinzhu/copier"

	"github.com/wardenmq/warden"
	"github.com/wardenmq/warden/plugins/pwfile"
	"github.com/wardenmq/warden/plugins/storage"
)

// defaultAddr is the default address to the redis service.
const defaultAddr = "localhost:6379"

// defaultHPrefix is a prefix to better identify hsets created by warden.
const defaultHPrefix = "warden-"

// userKey returns a primary key for a user record.
func userKey(username string) string {
	return username
}

// Options contains configuration settings for the redis instance.
type Options struct {
	HPrefix string
	Options *redis.Options
}

// Plugin is a credential store plugin using Redis as a backend.
type Plugin struct {
	warden.PluginBase
	config *Options        // options for connecting to the Redis instance.
	db     *redis.Client   // the Redis instance
	ctx    context.Context // a context for the connection
}

// ID returns the id of the plugin.
func (p *Plugin) ID() string {
	return "redis-db"
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

// hKey returns a hash set key with a unique prefix.
func (p *Plugin) hKey(s string) string {
	return p.config.HPrefix + s
}

// Init initializes and connects to the redis service.
func (p *Plugin) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return warden.ErrInvalidConfigType
	}

	p.ctx = context.Background()

	if config == nil {
		config = &Options{
			Options: &redis.Options{
				Addr: defaultAddr,
			},
		}
	}

	p.config = config.(*Options)
	if p.config.HPrefix == "" {
		p.config.HPrefix = defaultHPrefix
	}

	p.Log.Info("connecting to redis service",
		"address", p.config.Options.Addr,
		"username", p.config.Options.Username,
		"password-len", len(p.config.Options.Password),
		"db", p.config.Options.DB)

	p.db = redis.NewClient(p.config.Options)
	_, err := p.db.Ping(context.Background()).Result()
	if err != nil {
		return fmt.Errorf("failed to ping service: %w", err)
	}

	p.Log.Info("connected to redis service")

	return nil
}

// Stop closes the redis connection.
func (p *Plugin) Stop() error {
	p.Log.Info("disconnecting from redis service")
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
	err := p.db.HSet(p.ctx, p.hKey(storage.UserKey), userKey(u.Username), &u).Err()
	if err != nil {
		return fmt.Errorf("failed to hset user record: %w", err)
	}

	return nil
}

// DeleteUser removes a user record from the store.
func (p *Plugin) DeleteUser(username string) error {
	if p.db == nil {
		return storage.ErrDBFileNotOpen
	}

	err := p.db.HDel(p.ctx, p.hKey(storage.UserKey), userKey(username)).Err()
	if err != nil {
		return fmt.Errorf("failed to delete user record: %w", err)
	}

	return nil
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

	row, err := p.db.HGet(p.ctx, p.hKey(storage.UserKey), userKey(username)).Result()
	if errors.Is(err, redis.Nil) {
		return u, storage.ErrUserNotFound
	} else if err != nil {
		return u, err
	}

	var stored storage.User
	if err = stored.UnmarshalBinary([]byte(row)); err != nil {
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

	rows, err := p.db.HGetAll(p.ctx, p.hKey(storage.UserKey)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		p.Log.Error("failed to HGetAll user records", "error", err)
		return
	}

	for _, row := range rows {
		var d storage.User
		if err = d.UnmarshalBinary([]byte(row)); err != nil {
			p.Log.Error("failed to unmarshal user record", "error", err, "data", row)
		}

		v = append(v, d)
	}

	return v, nil
}
