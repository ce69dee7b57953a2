package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL_Local(t *testing.T) {
	ep, path, err := ParseURL("/mnt/data/backups")
	require.NoError(t, err)
	assert.Equal(t, "/mnt/data/backups", path)
	_, ok := ep.(*Local)
	assert.True(t, ok, "expected *Local, got %T", ep)
}

func TestParseURL_Remote(t *testing.T) {
	cases := []struct {
		url      string
		wantUser string
		wantHost string
		wantPort int
		wantPath string
	}{
		{"ssh://host/data", "", "host", 22, "/data"},
		{"ssh://user@host/data", "user", "host", 22, "/data"},
		{"ssh://user@host:2222/data/sub", "user", "host", 2222, "/data/sub"},
	}
	for _, c := range cases {
		ep, path, err := ParseURL(c.url)
		require.NoError(t, err, c.url)
		r, ok := ep.(*Remote)
		require.True(t, ok, "expected *Remote for %s", c.url)
		assert.Equal(t, c.wantUser, r.User, c.url)
		assert.Equal(t, c.wantHost, r.Host, c.url)
		assert.Equal(t, c.wantPort, r.Port, c.url)
		assert.Equal(t, c.wantPath, path, c.url)
	}
}

func TestParseURL_RemoteMissingHost(t *testing.T) {
	_, _, err := ParseURL("ssh:///data")
	assert.Error(t, err)
}

func TestSameHost(t *testing.T) {
	assert.True(t, SameHost(&Local{}, &Local{}))
	assert.False(t, SameHost(&Local{}, &Remote{Host: "a"}))
	assert.True(t, SameHost(&Remote{User: "x", Host: "a", Port: 22}, &Remote{User: "y", Host: "a", Port: 22}))
	assert.False(t, SameHost(&Remote{Host: "a", Port: 22}, &Remote{Host: "a", Port: 2222}))
	assert.False(t, SameHost(&Remote{Host: "a"}, &Remote{Host: "b"}))
}

func TestShellQuote(t *testing.T) {
	r := &Remote{Host: "h"}
	got := r.ShellQuote([]string{"btrfs", "send", "-p", "sx-a", "it's a path/sx-b"})
	assert.Equal(t, `'btrfs' 'send' '-p' 'sx-a' 'it'\''s a path/sx-b'`, got)
}
