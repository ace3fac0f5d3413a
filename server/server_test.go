package server

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bxcodec/faker/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xpdustry/simple-blacklist/filter"
	"github.com/xpdustry/simple-blacklist/pemfile"

	gossh "golang.org/x/crypto/ssh"
)

type fakeClient struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (c *fakeClient) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(b)
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *fakeClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func testConfig(t *testing.T) Config {
	t.Helper()
	c := DefaultConfig()
	c.Dir = t.TempDir()
	return c
}

func newTestServer(t *testing.T, c Config) *Server {
	t.Helper()
	s, err := New(c)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func arrival(name string) Arrival {
	fake := struct {
		Identity string `faker:"uuid_hyphenated"`
		Address  string `faker:"ipv4"`
	}{}
	if err := faker.FakeData(&fake); err != nil {
		panic(err)
	}
	return Arrival{Name: name, Identity: "SHA256:" + fake.Identity, Address: fake.Address}
}

func TestAdmitCleanName(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	ctx := context.Background()
	a := arrival("Bob")
	c := &fakeClient{}

	sn, err := s.Admit(ctx, a, c)
	require.NoError(t, err)
	require.NotNil(t, sn)
	assert.False(t, c.Closed())
	assert.Equal(t, []string{"Bob"}, s.Online())

	p, found, err := s.players.Get(ctx, a.Identity)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, p.TimesJoined)
	assert.Equal(t, a.Address, p.LastAddress)

	s.leave(ctx, sn)
	assert.Empty(t, s.Online())
	_, err = s.Admit(ctx, a, &fakeClient{})
	require.NoError(t, err)
	p, _, err = s.players.Get(ctx, a.Identity)
	require.NoError(t, err)
	assert.Equal(t, 2, p.TimesJoined)
}

func TestAdmitPreChecks(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	ctx := context.Background()
	online := arrival("Alice")
	_, err := s.Admit(ctx, online, &fakeClient{})
	require.NoError(t, err)

	for _, tc := range []struct {
		name    string
		arrival Arrival
		want    error
	}{
		{
			name:    "identity in use",
			arrival: Arrival{Name: "Other", Identity: online.Identity, Address: "192.0.2.9"},
			want:    ErrIDInUse,
		},
		{
			name:    "no identity",
			arrival: Arrival{Name: "Keyless", Address: "192.0.2.9"},
			want:    ErrNoIdentity,
		},
		{
			name:    "name only color tags",
			arrival: arrival("[red][]"),
			want:    ErrNameEmpty,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := &fakeClient{}
			_, err := s.Admit(ctx, tc.arrival, c)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, c.Closed())
			assert.Contains(t, c.String(), tc.want.Error())
		})
	}
}

func TestKickUnseenHasNoGrace(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, s.settings.AddName("scam"))

	a := arrival("FreeScamHere")
	c := &fakeClient{}
	_, err := s.Admit(ctx, a, c)
	require.ErrorIs(t, err, ErrBlacklisted)
	assert.True(t, c.Closed())
	assert.Equal(t, filter.DefaultMessage+"\n", c.String())
	uses, _ := s.settings.Names.Count("scam")
	assert.Equal(t, 1, uses)

	a.Name = "Honest"
	_, err = s.Admit(ctx, a, &fakeClient{})
	assert.NoError(t, err)
}

func TestKickSeenHasGrace(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	ctx := context.Background()
	s.settings.Message.Set("Go away.")

	a := arrival("Honest")
	sn, err := s.Admit(ctx, a, &fakeClient{})
	require.NoError(t, err)
	s.leave(ctx, sn)

	require.NoError(t, s.settings.AddName("scam"))
	a.Name = "scammer"
	c := &fakeClient{}
	_, err = s.Admit(ctx, a, c)
	require.ErrorIs(t, err, ErrBlacklisted)
	assert.Equal(t, "Go away.\n", c.String())

	a.Name = "Honest"
	_, err = s.Admit(ctx, a, &fakeClient{})
	assert.ErrorIs(t, err, ErrRecentlyKicked)
}

func TestBanIdentity(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	ctx := context.Background()
	s.settings.Mode.Set(filter.ModeBanIdentity)
	require.NoError(t, s.settings.AddPattern(`.*bot\d+`))

	a := arrival("bot42")
	_, err := s.Admit(ctx, a, &fakeClient{})
	require.ErrorIs(t, err, ErrBlacklisted)

	p, found, err := s.players.Get(ctx, a.Identity)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, p.Banned)
	assert.Equal(t, 0, p.TimesJoined)

	a.Name = "Honest"
	a.Address = "198.51.100.7"
	_, err = s.Admit(ctx, a, &fakeClient{})
	assert.ErrorIs(t, err, ErrBanned)

	require.NoError(t, s.players.Unban(ctx, a.Identity, ""))
	_, err = s.Admit(ctx, a, &fakeClient{})
	assert.NoError(t, err)
}

func TestBanAddress(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	ctx := context.Background()
	s.settings.Mode.Set(filter.ModeBanAddress)
	require.NoError(t, s.settings.AddName("scam"))

	a := arrival("scam")
	_, err := s.Admit(ctx, a, &fakeClient{})
	require.ErrorIs(t, err, ErrBlacklisted)

	other := arrival("Honest")
	other.Address = a.Address
	_, err = s.Admit(ctx, other, &fakeClient{})
	assert.ErrorIs(t, err, ErrBanned)

	addresses, err := s.players.BannedAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{a.Address}, addresses)
}

func TestAdminBypass(t *testing.T) {
	dir := t.TempDir()
	keys := pemfile.KeyParams{
		KeyPath:       filepath.Join(dir, "admin.pem"),
		SSHPubKeyPath: filepath.Join(dir, "admin.pub"),
		Bits:          1024,
	}
	require.NoError(t, keys.Generate())
	pubBytes, err := os.ReadFile(keys.SSHPubKeyPath)
	require.NoError(t, err)
	pub, _, _, _, err := gossh.ParseAuthorizedKey(pubBytes)
	require.NoError(t, err)

	c := testConfig(t)
	c.AdminKeys = []string{strings.TrimSpace(string(pubBytes))}
	s := newTestServer(t, c)
	ctx := context.Background()
	require.NoError(t, s.settings.AddName("scam"))

	admin := Arrival{Name: "scam-hunter", Identity: gossh.FingerprintSHA256(pub), Address: "192.0.2.1"}
	_, err = s.Admit(ctx, admin, &fakeClient{})
	require.ErrorIs(t, err, ErrBlacklisted)

	s.settings.IgnoreAdmins.Set(true)
	_, err = s.Admit(ctx, admin, &fakeClient{})
	require.NoError(t, err)
	uses, _ := s.settings.Names.Count("scam")
	assert.Equal(t, 1, uses)
}

func TestSweepAfterAdd(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	ctx := context.Background()
	bad := &fakeClient{}
	good := &fakeClient{}
	scammer := arrival("Scammer")
	_, err := s.Admit(ctx, scammer, bad)
	require.NoError(t, err)
	_, err = s.Admit(ctx, arrival("Honest"), good)
	require.NoError(t, err)

	out, err := s.Control(ctx, "BLACKLIST names add scam")
	require.NoError(t, err)
	assert.Contains(t, string(out), "added to the list")

	assert.True(t, bad.Closed())
	assert.Contains(t, bad.String(), filter.DefaultMessage)
	assert.False(t, good.Closed())
	assert.Contains(t, good.String(), "Scammer left.")
	assert.Equal(t, []string{"Honest"}, s.Online())

	// The first join put the player on record, so the kick comes with grace.
	assert.True(t, s.cooling(scammer))
	_, err = s.Admit(ctx, scammer, &fakeClient{})
	assert.ErrorIs(t, err, ErrRecentlyKicked)
	uses, _ := s.settings.Names.Count("scam")
	assert.Equal(t, 1, uses)
}

func TestControl(t *testing.T) {
	c := testConfig(t)
	s := newTestServer(t, c)
	ctx := context.Background()

	_, err := s.Control(ctx, "BLACKLIST regex add [")
	assert.Error(t, err)

	_, err = s.Control(ctx, "BLACKLIST names add scam")
	require.NoError(t, err)
	assert.True(t, s.registry.Modified())

	out, err := s.Control(ctx, "SAVE")
	require.NoError(t, err)
	assert.Equal(t, "Settings saved.\n", string(out))
	assert.False(t, s.registry.Modified())

	b, err := os.ReadFile(c.SettingsPath())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"scam"`)

	_, err = s.Control(ctx, "REBOOT")
	assert.ErrorContains(t, err, "unknown command")
}

func TestSettingsSurviveRestart(t *testing.T) {
	c := testConfig(t)
	s, err := New(c)
	require.NoError(t, err)
	require.NoError(t, s.settings.AddName("scam"))
	s.settings.Mode.Set(filter.ModeBanAddress)
	require.NoError(t, s.Close())

	s = newTestServer(t, c)
	assert.True(t, s.settings.Names.Contains("scam"))
	assert.Equal(t, filter.ModeBanAddress, s.settings.Mode.Get())
}

func TestBrokenSettingsAreFatal(t *testing.T) {
	c := testConfig(t)
	require.NoError(t, os.WriteFile(c.SettingsPath(), []byte("{not json"), 0600))
	_, err := New(c)
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ssh_addr: 0.0.0.0:2222\nautosave_interval: 30s\n"), 0600))
	c := DefaultConfig()
	require.NoError(t, c.LoadFile(path))
	assert.Equal(t, "0.0.0.0:2222", c.SSHAddr)
	assert.Equal(t, 30*time.Second, c.AutosaveInterval)
	assert.Equal(t, DefaultConfig().Dir, c.Dir)
}

func TestControlBans(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	ctx := context.Background()
	s.settings.Mode.Set(filter.ModeBanIdentity)
	require.NoError(t, s.settings.AddName("scam"))

	a := arrival("scammer")
	_, err := s.Admit(ctx, a, &fakeClient{})
	require.ErrorIs(t, err, ErrBlacklisted)
	s.settings.Mode.Set(filter.ModeBanAddress)
	b := arrival("scam2")
	_, err = s.Admit(ctx, b, &fakeClient{})
	require.ErrorIs(t, err, ErrBlacklisted)

	out, err := s.Control(ctx, "BANS")
	require.NoError(t, err)
	assert.Contains(t, string(out), "1 identity banned.")
	assert.Contains(t, string(out), a.Identity)
	assert.Contains(t, string(out), "1 address banned.\n| "+b.Address+"\n")

	out, err = s.Control(ctx, "UNBAN "+a.Identity)
	require.NoError(t, err)
	assert.Equal(t, "Unbanned "+a.Identity+".\n", string(out))
	out, err = s.Control(ctx, "UNBAN "+b.Address)
	require.NoError(t, err)
	assert.Equal(t, "Unbanned "+b.Address+".\n", string(out))

	_, err = s.Control(ctx, "UNBAN "+b.Address)
	assert.ErrorContains(t, err, "is not banned")
	_, err = s.Control(ctx, "UNBAN")
	assert.ErrorContains(t, err, "missing")

	out, err = s.Control(ctx, "BANS")
	require.NoError(t, err)
	assert.Equal(t, "0 identities banned.\n0 addresses banned.\n", string(out))

	a.Name = "Honest"
	_, err = s.Admit(ctx, a, &fakeClient{})
	assert.NoError(t, err)
}
