// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

package pebble

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wardenmq/warden"
	"github.com/wardenmq/warden/plugins/pwfile"
	"github.com/wardenmq/warden/plugins/storage"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

func newPlugin(t *testing.T) *Plugin {
	p := new(Plugin)
	p.SetOpts(logger, nil)

	err := p.Init(&Options{
		Path: filepath.Join(t.TempDir(), "warden.pebble"),
		Mode: Sync,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if p.db != nil {
			_ = p.Stop()
		}
	})

	return p
}

func mustHash(t *testing.T, password string) string {
	hash, err := pwfile.HashPassword([]byte(password), pwfile.HashSHA512)
	require.NoError(t, err)
	return hash
}

func TestKeyUpperBound(t *testing.T) {
	require.Equal(t, []byte("USS"), keyUpperBound([]byte("USR")))
	require.Equal(t, []byte{0x01}, keyUpperBound([]byte{0x00, 0xff}))
	require.Nil(t, keyUpperBound([]byte{0xff, 0xff}))
}

func TestPebbleID(t *testing.T) {
	p := new(Plugin)
	require.Equal(t, "pebble-db", p.ID())
}

func TestPebbleProvides(t *testing.T) {
	p := new(Plugin)
	require.True(t, p.Provides(warden.OnAuthenticate))
	require.True(t, p.Provides(warden.OnACLCheck))
	require.True(t, p.Provides(warden.OnPSKKeyGet))
	require.True(t, p.Provides(warden.StoredUsers))
	require.False(t, p.Provides(warden.OnSecurityInit))
}

func TestPebbleInitBadConfig(t *testing.T) {
	p := new(Plugin)
	p.SetOpts(logger, nil)
	require.Error(t, p.Init(map[string]any{}))
}

func TestPebbleUpsertGetDeleteUser(t *testing.T) {
	p := newPlugin(t)

	u := storage.User{
		Username:     "alice",
		PasswordHash: mustHash(t, "hunter2"),
		ACL:          []storage.ACL{{Filter: "alice/#", Access: 0x03}},
	}
	require.NoError(t, p.UpsertUser(u))

	got, err := p.GetUser("alice")
	require.NoError(t, err)
	require.Equal(t, u.PasswordHash, got.PasswordHash)
	require.Equal(t, storage.UserKey, got.T)

	// The returned record is a detached copy.
	got.ACL[0].Filter = "mutated"
	again, err := p.GetUser("alice")
	require.NoError(t, err)
	require.Equal(t, "alice/#", again.ACL[0].Filter)

	require.NoError(t, p.DeleteUser("alice"))
	_, err = p.GetUser("alice")
	require.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestPebbleOnAuthenticate(t *testing.T) {
	p := newPlugin(t)
	require.NoError(t, p.UpsertUser(storage.User{
		Username:     "alice",
		PasswordHash: mustHash(t, "hunter2"),
	}))

	cl := &warden.Client{ID: "cl1"}
	require.Equal(t, warden.Allow, p.OnAuthenticate(cl, []byte("alice"), []byte("hunter2")))
	require.Equal(t, warden.Deny, p.OnAuthenticate(cl, []byte("alice"), []byte("wrong")))
	require.Equal(t, warden.Defer, p.OnAuthenticate(cl, []byte("mallory"), []byte("hunter2")))
}

func TestPebbleOnACLCheck(t *testing.T) {
	p := newPlugin(t)
	require.NoError(t, p.UpsertUser(storage.User{
		Username: "alice",
		ACL: []storage.ACL{
			{Filter: "alice/#", Access: byte(warden.AccessRead | warden.AccessWrite)},
			{Filter: "readonly", Access: byte(warden.AccessRead)},
		},
	}))
	require.NoError(t, p.UpsertUser(storage.User{
		Username:  "root",
		Superuser: true,
	}))

	cl := &warden.Client{ID: "cl1", Username: []byte("alice")}
	require.Equal(t, warden.Allow, p.OnACLCheck(cl, warden.AccessWrite, &warden.ACLMessage{Topic: "alice/data"}))
	require.Equal(t, warden.Deny, p.OnACLCheck(cl, warden.AccessWrite, &warden.ACLMessage{Topic: "readonly"}))
	require.Equal(t, warden.Defer, p.OnACLCheck(cl, warden.AccessRead, &warden.ACLMessage{Topic: "uncovered"}))

	su := &warden.Client{ID: "cl2", Username: []byte("root")}
	require.Equal(t, warden.Allow, p.OnACLCheck(su, warden.AccessWrite, &warden.ACLMessage{Topic: "anything/at/all"}))
}

func TestPebbleOnPSKKeyGet(t *testing.T) {
	p := newPlugin(t)
	require.NoError(t, p.UpsertUser(storage.User{
		Username:    "sensor-1",
		PSKIdentity: "sensor-1",
		PSKKey:      "deadbeef",
	}))

	cl := &warden.Client{ID: "cl1", TLS: true}
	key, d := p.OnPSKKeyGet(cl, "", "sensor-1")
	require.Equal(t, warden.Allow, d)
	require.Equal(t, "deadbeef", key)

	_, d = p.OnPSKKeyGet(cl, "", "unknown")
	require.Equal(t, warden.Defer, d)
}

func TestPebbleSetACL(t *testing.T) {
	p := newPlugin(t)
	require.NoError(t, p.UpsertUser(storage.User{Username: "alice"}))

	acl := []storage.ACL{{Filter: "alice/#", Access: byte(warden.AccessRead | warden.AccessWrite)}}
	require.NoError(t, p.SetACL("alice", acl))

	got, err := p.GetUser("alice")
	require.NoError(t, err)
	require.Equal(t, acl, got.ACL)

	require.ErrorIs(t, p.SetACL("mallory", acl), storage.ErrUserNotFound)
}

func TestPebbleStoredUsers(t *testing.T) {
	p := newPlugin(t)
	require.NoError(t, p.UpsertUser(storage.User{Username: "alice"}))
	require.NoError(t, p.UpsertUser(storage.User{Username: "bob"}))

	v, err := p.StoredUsers()
	require.NoError(t, err)
	require.Len(t, v, 2)
}

func TestPebbleClosedDB(t *testing.T) {
	p := new(Plugin)
	p.SetOpts(logger, nil)

	_, err := p.GetUser("alice")
	require.ErrorIs(t, err, storage.ErrDBFileNotOpen)
	require.ErrorIs(t, p.UpsertUser(storage.User{Username: "a"}), storage.ErrDBFileNotOpen)
	require.ErrorIs(t, p.DeleteUser("a"), storage.ErrDBFileNotOpen)
}
