// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

// Package pwfile provides an authentication plugin backed by a password file.
// Each line of the file takes the form username:hash, where hash is an
// encoded password hash produced by HashPassword. Blank lines and lines
// beginning with # are ignored. The file is re-read on security reload.
package pwfile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/wardenmq/warden"
	"github.com/wardenmq/warden/plugins/storage"
)

// Users maps usernames to their encoded password hashes.
type Users map[string]string

// Parse reads password file lines from r. Malformed lines produce an error
// naming the offending line number.
func Parse(r io.Reader) (Users, error) {
	users := Users{}
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		username, hash, ok := strings.Cut(line, ":")
		if !ok || username == "" {
			return nil, fmt.Errorf("malformed password file entry on line %d", n)
		}

		users[username] = hash
	}

	return users, scanner.Err()
}

// Encode renders users as password file data, sorted by username.
func (u Users) Encode() []byte {
	names := make([]string, 0, len(u))
	for name := range u {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		fmt.Fprintf(&buf, "%s:%s\n", name, u[name])
	}

	return buf.Bytes()
}

// Options contains configuration settings for the password file plugin.
type Options struct {
	// Path is the location of the password file.
	Path string `yaml:"path" json:"path"`

	// Data is inline password file data, used instead of Path if set.
	Data []byte `yaml:"data" json:"data"`
}

// Plugin is an authentication plugin which checks credentials against a
// password file. Unknown usernames are deferred to the next plugin in the
// chain; known usernames with a wrong password are denied.
type Plugin struct {
	warden.PluginBase
	sync.RWMutex
	config *Options
	users  Users
}

// ID returns the ID of the plugin.
func (p *Plugin) ID() string {
	return "password-file"
}

// Provides indicates which plugin methods this plugin provides.
func (p *Plugin) Provides(b byte) bool {
	return bytes.Contains([]byte{
		warden.OnAuthenticate,
		warden.OnSecurityInit,
		warden.OnSecurityCleanup,
		warden.StoredUsers,
	}, []byte{b})
}

// Init configures the plugin and performs an initial load so that malformed
// files are reported at attach time.
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

// OnSecurityInit loads the password file, re-reading it on reload.
func (p *Plugin) OnSecurityInit(reload bool) error {
	if !reload {
		return nil // initial load already happened in Init
	}

	return p.load()
}

// OnSecurityCleanup discards the in-memory user table. When a reload follows,
// OnSecurityInit repopulates it.
func (p *Plugin) OnSecurityCleanup(reload bool) error {
	p.Lock()
	defer p.Unlock()
	p.users = nil
	return nil
}

// OnAuthenticate checks the presented credentials against the password file.
func (p *Plugin) OnAuthenticate(cl *warden.Client, username, password []byte) warden.Decision {
	p.RLock()
	hash, ok := p.users[string(username)]
	p.RUnlock()
	if !ok {
		return warden.Defer
	}

	match, err := CheckPassword(hash, password)
	if err != nil {
		p.Log.Warn("unusable password file entry",
			"username", string(username),
			"error", err)
		return warden.Error
	}

	if !match {
		p.Log.Info("client failed password check",
			"username", string(username),
			"remote", cl.Remote)
		return warden.Deny
	}

	return warden.Allow
}

// StoredUsers returns the usernames and hashes currently loaded.
func (p *Plugin) StoredUsers() (v []storage.User, err error) {
	p.RLock()
	defer p.RUnlock()
	for name, hash := range p.users {
		v = append(v, storage.User{
			Username:     name,
			PasswordHash: hash,
			T:            storage.UserKey,
		})
	}

	return v, nil
}

// load reads the configured file or inline data into the user table.
func (p *Plugin) load() error {
	var data []byte
	var err error
	switch {
	case len(p.config.Data) > 0:
		data = p.config.Data
	case p.config.Path != "":
		data, err = os.ReadFile(p.config.Path)
		if err != nil {
			return fmt.Errorf("failed reading password file: %w", err)
		}
	default:
		return nil // nothing configured; all checks defer
	}

	users, err := Parse(bytes.NewReader(data))
	if err != nil {
		return err
	}

	p.Lock()
	p.users = users
	p.Unlock()

	p.Log.Info("loaded password file", "users", len(users))
	return nil
}
