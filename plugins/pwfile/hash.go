// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

package pwfile

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// HashSHA512 identifies the salted sha512 hash format, encoded as
	// $6$salt$hash with base64 fields.
	HashSHA512 = 6

	// HashPBKDF2 identifies the pbkdf2-sha512 hash format, encoded as
	// $7$iterations$salt$hash with base64 fields.
	HashPBKDF2 = 7

	// DefaultIterations is the pbkdf2 iteration count used when hashing
	// new passwords.
	DefaultIterations = 100000

	saltLen = 12
	keyLen  = sha512.Size
)

var (
	// ErrMalformedHash indicates an encoded password hash could not be parsed.
	ErrMalformedHash = errors.New("malformed password hash")

	// ErrUnknownHashType indicates an unsupported hash format identifier.
	ErrUnknownHashType = errors.New("unknown password hash type")
)

// HashPassword encodes a password using the requested hash format, generating
// a fresh random salt.
func HashPassword(password []byte, hashType int) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	e := base64.StdEncoding
	switch hashType {
	case HashSHA512:
		sum := sha512sum(password, salt)
		return fmt.Sprintf("$6$%s$%s", e.EncodeToString(salt), e.EncodeToString(sum)), nil
	case HashPBKDF2:
		sum := pbkdf2.Key(password, salt, DefaultIterations, keyLen, sha512.New)
		return fmt.Sprintf("$7$%d$%s$%s", DefaultIterations, e.EncodeToString(salt), e.EncodeToString(sum)), nil
	}

	return "", ErrUnknownHashType
}

// CheckPassword compares a password against an encoded hash in constant time,
// returning true if they match.
func CheckPassword(encoded string, password []byte) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) < 4 || parts[0] != "" {
		return false, ErrMalformedHash
	}

	e := base64.StdEncoding
	switch parts[1] {
	case "6":
		if len(parts) != 4 {
			return false, ErrMalformedHash
		}

		salt, err := e.DecodeString(parts[2])
		if err != nil {
			return false, ErrMalformedHash
		}

		want, err := e.DecodeString(parts[3])
		if err != nil {
			return false, ErrMalformedHash
		}

		return subtle.ConstantTimeCompare(sha512sum(password, salt), want) == 1, nil
	case "7":
		if len(parts) != 5 {
			return false, ErrMalformedHash
		}

		iterations, err := strconv.Atoi(parts[2])
		if err != nil || iterations < 1 {
			return false, ErrMalformedHash
		}

		salt, err := e.DecodeString(parts[3])
		if err != nil {
			return false, ErrMalformedHash
		}

		want, err := e.DecodeString(parts[4])
		if err != nil {
			return false, ErrMalformedHash
		}

		sum := pbkdf2.Key(password, salt, iterations, len(want), sha512.New)
		return subtle.ConstantTimeCompare(sum, want) == 1, nil
	}

	return false, ErrUnknownHashType
}

// sha512sum returns the sha512 digest of password+salt.
func sha512sum(password, salt []byte) []byte {
	h := sha512.New()
	h.Write(password)
	h.Write(salt)
	return h.Sum(nil)
}
