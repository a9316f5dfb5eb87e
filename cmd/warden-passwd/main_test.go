// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wardenmq/warden/plugins/pwfile"
)

func TestRunCreateAndCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.pw")

	err := run(true, false, "sha512-pbkdf2", []string{path, "alice", "hunter2"})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	users, err := pwfile.Parse(f)
	require.NoError(t, err)

	ok, err := pwfile.CheckPassword(users["alice"], []byte("hunter2"))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRunCreateRefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.pw")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	err := run(true, false, "sha512", []string{path, "alice", "hunter2"})
	require.Error(t, err)
}

func TestRunDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.pw")
	require.NoError(t, run(true, false, "sha512", []string{path, "alice", "hunter2"}))
	require.NoError(t, run(false, false, "sha512", []string{path, "bob", "melon"}))

	require.NoError(t, run(false, true, "sha512", []string{path, "alice"}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	users, err := pwfile.Parse(f)
	require.NoError(t, err)
	require.NotContains(t, users, "alice")
	require.Contains(t, users, "bob")
}

func TestRunDeleteUnknownUser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.pw")
	require.NoError(t, run(true, false, "sha512", []string{path, "alice", "hunter2"}))
	require.Error(t, run(false, true, "sha512", []string{path, "mallory"}))
}

func TestRunBadHashType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.pw")
	require.Error(t, run(true, false, "md5", []string{path, "alice", "hunter2"}))
}

func TestRunUsage(t *testing.T) {
	require.Error(t, run(false, false, "sha512", nil))
	require.Error(t, run(false, false, "sha512", []string{"only-path"}))
}
