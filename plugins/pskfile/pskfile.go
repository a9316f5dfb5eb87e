// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

// Package pskfile provides a TLS-PSK lookup plugin backed by a plain-text
// file of identity:key lines, where key is hexadecimal with no leading 0x.
// Unknown identities are deferred to the next plugin in the chain.
package pskfile

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/wardenmq/warden"
)

// Options contains configuration settings for the psk file plugin.
type Options struct {
	// Path is the location of the psk file.
	Path string `yaml:"path" json:"path"`

	// Data is inline psk file data, used instead of Path if set.
	Data []byte `yaml:"data" json:"data"`

	// Hint restricts the plugin to lookups carrying this listener hint.
	// When empty, lookups for any hint are answered.
	Hint string `yaml:"hint" json:"hint"`
}

// Plugin is a psk lookup plugin which resolves client identities to
// pre-shared keys from a psk file.
type Plugin struct {
	warden.PluginBase
	sync.RWMutex
	config *Options
	keys   map[string]string
}

// ID returns the ID of the plugin.
func (p *Plugin) ID() string {
	return "psk-file"
}

// Provides indicates which plugin methods this plugin provides.
func (p *Plugin) Provides(b byte) bool {
	return bytes.Contains([]byte{
		warden.OnPSKKeyGet,
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

// OnSecurityInit re-reads the psk file on reload.
func (p *Plugin) OnSecurityInit(reload bool) error {
	if !reload {
		return nil
	}

	return p.load()
}

// OnSecurityCleanup discards the in-memory key table.
func (p *Plugin) OnSecurityCleanup(reload bool) error {
	p.Lock()
	defer p.Unlock()
	p.keys = nil
	return nil
}

// OnPSKKeyGet returns the pre-shared key for an identity, deferring for
// unknown identities or foreign listener hints.
func (p *Plugin) OnPSKKeyGet(cl *warden.Client, hint, identity string) (string, warden.Decision) {
	if p.config.Hint != "" && p.config.Hint != hint {
		return "", warden.Defer
	}

	p.RLock()
	key, ok := p.keys[identity]
	p.RUnlock()
	if !ok {
		return "", warden.Defer
	}

	return key, warden.Allow
}

// load reads the configured file or inline data into the key table.
func (p *Plugin) load() error {
	var data []byte
	var err error
	switch {
	case len(p.config.Data) > 0:
		data = p.config.Data
	case p.config.Path != "":
		data, err = os.ReadFile(p.config.Path)
		if err != nil {
			return fmt.Errorf("failed reading psk file: %w", err)
		}
	default:
		return nil // nothing configured; all lookups defer
	}

	keys, err := parse(bytes.NewReader(data))
	if err != nil {
		return err
	}

	p.Lock()
	p.keys = keys
	p.Unlock()

	p.Log.Info("loaded psk file", "identities", len(keys))
	return nil
}

// parse reads identity:key lines from r, validating each key as hex.
func parse(r io.Reader) (map[string]string, error) {
	keys := map[string]string{}
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		identity, key, ok := strings.Cut(line, ":")
		if !ok || identity == "" || key == "" {
			return nil, fmt.Errorf("malformed psk file entry on line %d", n)
		}

		if _, err := hex.DecodeString(key); err != nil || len(key)%2 != 0 {
			return nil, fmt.Errorf("invalid psk key on line %d", n)
		}

		keys[identity] = key
	}

	return keys, scanner.Err()
}
