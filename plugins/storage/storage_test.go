// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserMarshalBinary(t *testing.T) {
	u := User{
		Username:     "alice",
		PasswordHash: "$6$c2FsdA==$aGFzaA==",
		T:            UserKey,
		Superuser:    true,
		ACL: []ACL{
			{Filter: "alice/#", Access: 0x03},
		},
	}

	data, err := u.MarshalBinary()
	require.NoError(t, err)

	var d User
	require.NoError(t, d.UnmarshalBinary(data))
	require.Equal(t, u, d)
}

func TestUserUnmarshalBinaryEmpty(t *testing.T) {
	var d User
	require.NoError(t, d.UnmarshalBinary(nil))
	require.Empty(t, d.Username)
}

func TestMatchTopic(t *testing.T) {
	tt := []struct {
		filter   string
		topic    string
		elements []string
		matched  bool
	}{
		{"a/b/c", "a/b/c", []string{}, true},
		{"a/+/c", "a/b/c", []string{"b"}, true},
		{"a/#", "a/b/c", []string{"b/c"}, true},
		{"#", "a/b/c", []string{"a/b/c"}, true},
		{"+/+/+", "a/b/c", []string{"a", "b", "c"}, true},
		{"a/b", "a/b/c", nil, false},
		{"a/b/c/d", "a/b/c", nil, false},
		{"d/b/c", "a/b/c", nil, false},
	}

	for _, d := range tt {
		elements, matched := MatchTopic(d.filter, d.topic)
		require.Equal(t, d.matched, matched, "filter %q topic %q", d.filter, d.topic)
		if d.matched {
			require.Equal(t, d.elements, elements, "filter %q topic %q", d.filter, d.topic)
		}
	}
}
