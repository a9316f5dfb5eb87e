// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 wardenmq

package aclfile

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wardenmq/warden"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

var checkACL = []byte(`
# anonymous clients may read the public feed
topic read public/#

user alice
topic alice/#
topic read shared/reports
topic deny secret/#

user bob
topic write telemetry/+/data

pattern readwrite clients/%c/inbox
pattern read users/%u/status
`)

func TestParse(t *testing.T) {
	acl, err := Parse(strings.NewReader(string(checkACL)))
	require.NoError(t, err)
	require.Len(t, acl.general, 1)
	require.Len(t, acl.users, 2)
	require.Len(t, acl.users["alice"], 3)
	require.Len(t, acl.patterns, 2)
}

func TestParseErrors(t *testing.T) {
	for _, data := range []string{
		"user\n",                    // missing username
		"user alice bob\n",          // too many fields
		"topic\n",                   // missing filter
		"topic readwrite a/b c/d\n", // too many fields
		"topic admit a/b\n",         // unknown access type
		"frobnicate a/b\n",          // unknown directive
	} {
		_, err := Parse(strings.NewReader(data))
		require.Error(t, err, "data: %q", data)
	}
}

func TestCheckAnonymous(t *testing.T) {
	acl, err := Parse(strings.NewReader(string(checkACL)))
	require.NoError(t, err)

	cl := &warden.Client{ID: "anon1"}
	require.Equal(t, warden.Allow, acl.Check(cl, warden.AccessRead, "public/news"))
	require.Equal(t, warden.Defer, acl.Check(cl, warden.AccessWrite, "public/news"))
	require.Equal(t, warden.Defer, acl.Check(cl, warden.AccessRead, "alice/data"))
}

func TestCheckUser(t *testing.T) {
	acl, err := Parse(strings.NewReader(string(checkACL)))
	require.NoError(t, err)

	cl := &warden.Client{ID: "cl1", Username: []byte("alice")}
	require.Equal(t, warden.Allow, acl.Check(cl, warden.AccessRead, "alice/data"))
	require.Equal(t, warden.Allow, acl.Check(cl, warden.AccessWrite, "alice/data"))
	require.Equal(t, warden.Allow, acl.Check(cl, warden.AccessRead, "shared/reports"))
	require.Equal(t, warden.Defer, acl.Check(cl, warden.AccessWrite, "shared/reports"))
	require.Equal(t, warden.Deny, acl.Check(cl, warden.AccessRead, "secret/keys"))
	require.Equal(t, warden.Deny, acl.Check(cl, warden.AccessWrite, "secret/keys"))
}

func TestCheckUserDoesNotInheritGeneral(t *testing.T) {
	acl, err := Parse(strings.NewReader(string(checkACL)))
	require.NoError(t, err)

	// Rules before the first user line apply to anonymous clients only.
	cl := &warden.Client{ID: "cl1", Username: []byte("bob")}
	require.Equal(t, warden.Defer, acl.Check(cl, warden.AccessRead, "public/news"))
	require.Equal(t, warden.Allow, acl.Check(cl, warden.AccessWrite, "telemetry/dev1/data"))
}

func TestCheckPatterns(t *testing.T) {
	acl, err := Parse(strings.NewReader(string(checkACL)))
	require.NoError(t, err)

	cl := &warden.Client{ID: "cl1", Username: []byte("bob")}
	require.Equal(t, warden.Allow, acl.Check(cl, warden.AccessWrite, "clients/cl1/inbox"))
	require.Equal(t, warden.Defer, acl.Check(cl, warden.AccessWrite, "clients/cl2/inbox"))
	require.Equal(t, warden.Allow, acl.Check(cl, warden.AccessRead, "users/bob/status"))
	require.Equal(t, warden.Defer, acl.Check(cl, warden.AccessWrite, "users/bob/status"))
}

func TestCheckLaterRuleMayGrant(t *testing.T) {
	acl, err := Parse(strings.NewReader("topic read a/b\ntopic write a/b\n"))
	require.NoError(t, err)

	cl := &warden.Client{ID: "cl1"}
	require.Equal(t, warden.Allow, acl.Check(cl, warden.AccessRead, "a/b"))
	require.Equal(t, warden.Allow, acl.Check(cl, warden.AccessWrite, "a/b"))
}

func TestACLFileID(t *testing.T) {
	p := new(Plugin)
	require.Equal(t, "acl-file", p.ID())
}

func TestACLFileProvides(t *testing.T) {
	p := new(Plugin)
	require.True(t, p.Provides(warden.OnACLCheck))
	require.True(t, p.Provides(warden.OnSecurityInit))
	require.True(t, p.Provides(warden.OnSecurityCleanup))
	require.False(t, p.Provides(warden.OnAuthenticate))
}

func TestACLFileInitBadConfig(t *testing.T) {
	p := new(Plugin)
	p.SetOpts(logger, nil)
	require.Error(t, p.Init(map[string]any{}))
}

func TestACLFileNothingConfigured(t *testing.T) {
	p := new(Plugin)
	p.SetOpts(logger, nil)
	require.NoError(t, p.Init(nil))

	cl := &warden.Client{ID: "cl1"}
	require.Equal(t, warden.Defer, p.OnACLCheck(cl, warden.AccessRead, &warden.ACLMessage{Topic: "a/b"}))
}

func TestACLFileOnACLCheck(t *testing.T) {
	p := new(Plugin)
	p.SetOpts(logger, nil)
	require.NoError(t, p.Init(&Options{Data: checkACL}))

	cl := &warden.Client{ID: "cl1", Username: []byte("alice")}
	require.Equal(t, warden.Allow, p.OnACLCheck(cl, warden.AccessWrite, &warden.ACLMessage{Topic: "alice/data"}))
	require.Equal(t, warden.Deny, p.OnACLCheck(cl, warden.AccessRead, &warden.ACLMessage{Topic: "secret/keys"}))
	require.Equal(t, warden.Defer, p.OnACLCheck(cl, warden.AccessWrite, &warden.ACLMessage{Topic: "uncovered"}))
}

func TestACLFileReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acl")
	require.NoError(t, os.WriteFile(path, []byte("user alice\ntopic alice/#\n"), 0o600))

	p := new(Plugin)
	p.SetOpts(logger, nil)
	require.NoError(t, p.Init(&Options{Path: path}))

	cl := &warden.Client{ID: "cl1", Username: []byte("alice")}
	require.Equal(t, warden.Allow, p.OnACLCheck(cl, warden.AccessRead, &warden.ACLMessage{Topic: "alice/data"}))

	require.NoError(t, os.WriteFile(path, []byte("user alice\ntopic deny alice/#\n"), 0o600))
	require.NoError(t, p.OnSecurityCleanup(true))
	require.NoError(t, p.OnSecurityInit(true))

	require.Equal(t, warden.Deny, p.OnACLCheck(cl, warden.AccessRead, &warden.ACLMessage{Topic: "alice/data"}))
}

func TestACLFileMissingFile(t *testing.T) {
	p := new(Plugin)
	p.SetOpts(logger, nil)
	require.Error(t, p.Init(&Options{Path: filepath.Join(t.TempDir(), "nope.acl")}))
}
