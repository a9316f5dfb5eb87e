// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

package pwfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashPasswordSHA512(t *testing.T) {
	hash, err := HashPassword([]byte("hunter2"), HashSHA512)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$6$"))

	ok, err := CheckPassword(hash, []byte("hunter2"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = CheckPassword(hash, []byte("hunter3"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashPasswordPBKDF2(t *testing.T) {
	hash, err := HashPassword([]byte("hunter2"), HashPBKDF2)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$7$"))

	ok, err := CheckPassword(hash, []byte("hunter2"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = CheckPassword(hash, []byte("wrong"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashPasswordSaltsDiffer(t *testing.T) {
	a, err := HashPassword([]byte("same"), HashPBKDF2)
	require.NoError(t, err)
	b, err := HashPassword([]byte("same"), HashPBKDF2)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestHashPasswordUnknownType(t *testing.T) {
	_, err := HashPassword([]byte("pw"), 99)
	require.ErrorIs(t, err, ErrUnknownHashType)
}

func TestCheckPasswordMalformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plaintext",
		"$6$onlysalt",
		"$6$not-base64!$not-base64!",
		"$7$x$c2FsdA==$aGFzaA==",
		"$7$0$c2FsdA==$aGFzaA==",
		"$7$1000$not-base64!$aGFzaA==",
		"no$leading$dollar$sign",
	} {
		_, err := CheckPassword(encoded, []byte("pw"))
		require.ErrorIs(t, err, ErrMalformedHash, "encoded: %q", encoded)
	}
}

func TestCheckPasswordUnknownType(t *testing.T) {
	_, err := CheckPassword("$9$c2FsdA==$aGFzaA==", []byte("pw"))
	require.ErrorIs(t, err, ErrUnknownHashType)
}
