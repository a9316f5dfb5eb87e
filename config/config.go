// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

package config

import (
	"encoding/json"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wardenmq/warden"
	"github.com/wardenmq/warden/plugins/aclfile"
	"github.com/wardenmq/warden/plugins/auth"
	"github.com/wardenmq/warden/plugins/debug"
	"github.com/wardenmq/warden/plugins/pskfile"
	"github.com/wardenmq/warden/plugins/pwfile"
	"github.com/wardenmq/warden/plugins/storage/badger"
	"github.com/wardenmq/warden/plugins/storage/bolt"
	"github.com/wardenmq/warden/plugins/storage/pebble"
	"github.com/wardenmq/warden/plugins/storage/redis"
)

// config defines the structure of configuration data to be parsed from a config source.
type config struct {
	AllowAnonymous bool              `yaml:"allow_anonymous" json:"allow_anonymous"`
	ListenerHints  map[string]string `yaml:"listener_hints" json:"listener_hints"`
	PluginConfigs  PluginConfigs     `yaml:"plugins" json:"plugins"`
}

// PluginConfigs contains configurations to enable individual plugins.
type PluginConfigs struct {
	Debug        *debug.Options       `yaml:"debug" json:"debug"`
	PasswordFile *pwfile.Options      `yaml:"password_file" json:"password_file"`
	ACLFile      *aclfile.Options     `yaml:"acl_file" json:"acl_file"`
	PSKFile      *pskfile.Options     `yaml:"psk_file" json:"psk_file"`
	Auth         *PluginAuthConfig    `yaml:"auth" json:"auth"`
	Storage      *PluginStorageConfig `yaml:"storage" json:"storage"`
}

// PluginAuthConfig contains configurations for the auth ledger plugin.
type PluginAuthConfig struct {
	Ledger   auth.Ledger `yaml:"ledger" json:"ledger"`
	AllowAll bool        `yaml:"allow_all" json:"allow_all"`
}

// PluginStorageConfig contains configurations for the different credential store plugins.
type PluginStorageConfig struct {
	Badger *badger.Options `yaml:"badger" json:"badger"`
	Bolt   *bolt.Options   `yaml:"bolt" json:"bolt"`
	Pebble *pebble.Options `yaml:"pebble" json:"pebble"`
	Redis  *redis.Options  `yaml:"redis" json:"redis"`
}

// ToPlugins converts plugin configurations into plugin load configs to be
// attached to the security coordinator. The debug tracer comes first so it
// observes every check, followed by the file backends, the auth ledger, and
// finally the credential stores; checks are dispatched in this order.
func (pc PluginConfigs) ToPlugins() []warden.PluginLoadConfig {
	var plc []warden.PluginLoadConfig

	if pc.Debug != nil {
		plc = append(plc, warden.PluginLoadConfig{
			Plugin: new(debug.Plugin),
			Config: pc.Debug,
		})
	}

	if pc.PasswordFile != nil {
		plc = append(plc, warden.PluginLoadConfig{
			Plugin: new(pwfile.Plugin),
			Config: pc.PasswordFile,
		})
	}

	if pc.ACLFile != nil {
		plc = append(plc, warden.PluginLoadConfig{
			Plugin: new(aclfile.Plugin),
			Config: pc.ACLFile,
		})
	}

	if pc.PSKFile != nil {
		plc = append(plc, warden.PluginLoadConfig{
			Plugin: new(pskfile.Plugin),
			Config: pc.PSKFile,
		})
	}

	if pc.Auth != nil {
		plc = append(plc, pc.toPluginsAuth()...)
	}

	if pc.Storage != nil {
		plc = append(plc, pc.toPluginsStorage()...)
	}

	return plc
}

// toPluginsAuth converts auth plugin configurations into auth plugins.
func (pc PluginConfigs) toPluginsAuth() []warden.PluginLoadConfig {
	var plc []warden.PluginLoadConfig
	if pc.Auth.AllowAll {
		plc = append(plc, warden.PluginLoadConfig{
			Plugin: new(auth.AllowAll),
		})
	} else {
		plc = append(plc, warden.PluginLoadConfig{
			Plugin: new(auth.Plugin),
			Config: &auth.Options{
				Ledger: &auth.Ledger{ // avoid copying sync.Locker
					Users: pc.Auth.Ledger.Users,
					Auth:  pc.Auth.Ledger.Auth,
					ACL:   pc.Auth.Ledger.ACL,
				},
			},
		})
	}
	return plc
}

// toPluginsStorage converts storage plugin configurations into credential store plugins.
func (pc PluginConfigs) toPluginsStorage() []warden.PluginLoadConfig {
	var plc []warden.PluginLoadConfig
	if pc.Storage.Badger != nil {
		plc = append(plc, warden.PluginLoadConfig{
			Plugin: new(badger.Plugin),
			Config: pc.Storage.Badger,
		})
	}

	if pc.Storage.Bolt != nil {
		plc = append(plc, warden.PluginLoadConfig{
			Plugin: new(bolt.Plugin),
			Config: pc.Storage.Bolt,
		})
	}

	if pc.Storage.Redis != nil {
		plc = append(plc, warden.PluginLoadConfig{
			Plugin: new(redis.Plugin),
			Config: pc.Storage.Redis,
		})
	}

	if pc.Storage.Pebble != nil {
		plc = append(plc, warden.PluginLoadConfig{
			Plugin: new(pebble.Plugin),
			Config: pc.Storage.Pebble,
		})
	}
	return plc
}

// FromBytes unmarshals a byte slice of JSON or YAML config data into a valid
// options value. Any plugin configurations are converted into plugin load
// configs using the ToPlugins methods in this package.
func FromBytes(b []byte) (*warden.Options, error) {
	c := new(config)

	if len(b) == 0 {
		return nil, nil
	}

	if b[0] == '{' {
		err := json.Unmarshal(b, c)
		if err != nil {
			return nil, err
		}
	} else {
		err := yaml.Unmarshal(b, c)
		if err != nil {
			return nil, err
		}
	}

	return &warden.Options{
		AllowAnonymous: c.AllowAnonymous,
		ListenerHints:  c.ListenerHints,
		Plugins:        c.PluginConfigs.ToPlugins(),
	}, nil
}

// FromFile reads a config file and unmarshals it with FromBytes.
func FromFile(path string) (*warden.Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return FromBytes(data)
}
