// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

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

var yamlBytes = []byte(`
allow_anonymous: true
listener_hints:
  tls: gate-a
plugins:
  debug:
    showpasswords: false
  password_file:
    path: users.pw
  acl_file:
    path: acl
  psk_file:
    path: psk
    hint: gate-a
  auth:
    ledger:
      auth:
        - username: alice
          allow: true
  storage:
    badger:
      path: .badger
    bolt:
      path: .bolt
    redis: {}
    pebble:
      path: .pebble
      mode: Sync
`)

var jsonBytes = []byte(`{
	"allow_anonymous": true,
	"plugins": {
		"password_file": {"path": "users.pw"},
		"auth": {"allow_all": true}
	}
}`)

func TestFromBytesEmpty(t *testing.T) {
	opts, err := FromBytes(nil)
	require.NoError(t, err)
	require.Nil(t, opts)
}

func TestFromBytesYAML(t *testing.T) {
	opts, err := FromBytes(yamlBytes)
	require.NoError(t, err)
	require.NotNil(t, opts)
	require.True(t, opts.AllowAnonymous)
	require.Equal(t, map[string]string{"tls": "gate-a"}, opts.ListenerHints)
	require.Len(t, opts.Plugins, 9)

	// The file backends come directly after the debug tracer, before the
	// ledger and the credential stores, so their checks run first.
	require.IsType(t, new(debug.Plugin), opts.Plugins[0].Plugin)
	require.IsType(t, new(pwfile.Plugin), opts.Plugins[1].Plugin)
	require.IsType(t, new(aclfile.Plugin), opts.Plugins[2].Plugin)
	require.IsType(t, new(pskfile.Plugin), opts.Plugins[3].Plugin)
	require.IsType(t, new(auth.Plugin), opts.Plugins[4].Plugin)
	require.IsType(t, new(badger.Plugin), opts.Plugins[5].Plugin)
	require.IsType(t, new(bolt.Plugin), opts.Plugins[6].Plugin)
	require.IsType(t, new(redis.Plugin), opts.Plugins[7].Plugin)
	require.IsType(t, new(pebble.Plugin), opts.Plugins[8].Plugin)
}

func TestFromBytesYAMLLedgerRules(t *testing.T) {
	opts, err := FromBytes(yamlBytes)
	require.NoError(t, err)

	cfg, ok := opts.Plugins[4].Config.(*auth.Options)
	require.True(t, ok)
	require.Len(t, cfg.Ledger.Auth, 1)
	require.Equal(t, auth.RString("alice"), cfg.Ledger.Auth[0].Username)
}

func TestFromBytesJSON(t *testing.T) {
	opts, err := FromBytes(jsonBytes)
	require.NoError(t, err)
	require.True(t, opts.AllowAnonymous)
	require.Len(t, opts.Plugins, 2)
	require.IsType(t, new(pwfile.Plugin), opts.Plugins[0].Plugin)
	require.IsType(t, new(auth.AllowAll), opts.Plugins[1].Plugin)
}

func TestFromBytesBadYAML(t *testing.T) {
	_, err := FromBytes([]byte("allow_anonymous: [\n"))
	require.Error(t, err)
}

func TestFromBytesBadJSON(t *testing.T) {
	_, err := FromBytes([]byte("{not json"))
	require.Error(t, err)
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.yaml")
	require.NoError(t, os.WriteFile(path, yamlBytes, 0o600))

	opts, err := FromFile(path)
	require.NoError(t, err)
	require.True(t, opts.AllowAnonymous)
}

func TestFromFileMissing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestToPluginsEmpty(t *testing.T) {
	var pc PluginConfigs
	require.Empty(t, pc.ToPlugins())
}
