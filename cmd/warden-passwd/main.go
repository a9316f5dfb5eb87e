// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

// warden-passwd manages password files for the password-file plugin.
//
//	warden-passwd [-c] [-H sha512|sha512-pbkdf2] <passwordfile> <username> [password]
//	warden-passwd -D <passwordfile> <username>
//
// With no password argument, the password is read from stdin. -c creates the
// file, refusing to overwrite an existing one. -D deletes the named user.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/wardenmq/warden/plugins/pwfile"
)

func main() {
	var (
		create   = flag.Bool("c", false, "create a new password file; fail if it exists")
		remove   = flag.Bool("D", false, "delete the named user from the password file")
		hashName = flag.String("H", "sha512-pbkdf2", "hash type: sha512 or sha512-pbkdf2")
	)
	flag.Parse()

	if err := run(*create, *remove, *hashName, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(create, del bool, hashName string, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: warden-passwd [-c] [-D] [-H type] <passwordfile> <username> [password]")
	}

	path, username := args[0], args[1]

	hashType := pwfile.HashPBKDF2
	switch hashName {
	case "sha512":
		hashType = pwfile.HashSHA512
	case "sha512-pbkdf2":
	default:
		return fmt.Errorf("unknown hash type %q", hashName)
	}

	users, err := loadUsers(path, create)
	if err != nil {
		return err
	}

	if del {
		if _, ok := users[username]; !ok {
			return fmt.Errorf("user %s not found in %s", username, path)
		}
		delete(users, username)
		return writeUsers(path, users)
	}

	password, err := readPassword(args)
	if err != nil {
		return err
	}

	hash, err := pwfile.HashPassword([]byte(password), hashType)
	if err != nil {
		return err
	}

	users[username] = hash
	return writeUsers(path, users)
}

// loadUsers reads an existing password file, or starts a fresh one with -c.
func loadUsers(path string, create bool) (pwfile.Users, error) {
	if create {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("%s already exists; remove it or drop -c", path)
		}
		return pwfile.Users{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return pwfile.Parse(f)
}

// readPassword takes the password from the third argument, or prompts on stdin.
func readPassword(args []string) (string, error) {
	if len(args) > 2 {
		return args[2], nil
	}

	fmt.Fprint(os.Stderr, "password: ")
	r := bufio.NewReader(os.Stdin)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}

	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("empty password")
	}

	return password, nil
}

func writeUsers(path string, users pwfile.Users) error {
	return os.WriteFile(path, users.Encode(), 0o600)
}
