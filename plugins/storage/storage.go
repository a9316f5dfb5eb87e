// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

package storage

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	UserKey = "USR" // unique key to denote user records in a store
)

var (
	// ErrDBFileNotOpen indicates that the file database (e.g. bolt/badger) wasn't open for reading.
	ErrDBFileNotOpen = errors.New("db file not open")

	// ErrUserNotFound indicates that no record exists for the requested username.
	ErrUserNotFound = errors.New("user not found")
)

// Serializable is an interface for objects that can be serialized and deserialized.
type Serializable interface {
	UnmarshalBinary([]byte) error
	MarshalBinary() (data []byte, err error)
}

// User is a storable representation of a broker user and their access rules.
type User struct {
	ACL          []ACL  `json:"acl,omitempty"`           // per-filter access rules for the user
	Username     string `json:"username" storm:"id"`     // the username / storage key
	PasswordHash string `json:"passwordHash,omitempty"`  // encoded password hash
	PSKIdentity  string `json:"pskIdentity,omitempty"`   // tls-psk identity, if any
	PSKKey       string `json:"pskKey,omitempty"`        // hex-encoded pre-shared key, if any
	T            string `json:"t,omitempty"`             // the data type (user)
	Superuser    bool   `json:"superuser,omitempty"`     // superusers bypass acl checks
	Disabled     bool   `json:"disabled,omitempty"`      // disabled users always fail authentication
}

// ACL is a storable representation of a topic access rule.
type ACL struct {
	Filter string `json:"filter"` // topic filter the rule applies to
	Access byte   `json:"access"` // access bits; read 0x01, write 0x02
}

// MarshalBinary encodes the values into a json string.
func (d User) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *User) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// MatchTopic checks if a given topic matches a filter, accounting for filter
// wildcards. Eg. filter /a/b/+/c == topic a/b/d/c.
func MatchTopic(filter string, topic string) (elements []string, matched bool) {
	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	elements = make([]string, 0)
	for i := 0; i < len(filterParts); i++ {
		if i >= len(topicParts) {
			matched = false
			return
		}

		if filterParts[i] == "+" {
			elements = append(elements, topicParts[i])
			continue
		}

		if filterParts[i] == "#" {
			matched = true
			elements = append(elements, strings.Join(topicParts[i:], "/"))
			return
		}

		if filterParts[i] != topicParts[i] {
			matched = false
			return
		}
	}

	// A filter shorter than the topic does not cover it, eg. a/b vs a/b/c.
	if len(topicParts) > len(filterParts) {
		return nil, false
	}

	return elements, true
}
