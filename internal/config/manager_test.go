package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestParseYAMLAppliesDefaults(t *testing.T) {
	p := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
bot:
  channel_link: "https://t.me/example"
storage:
  driver: memory
`)
	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, []int64{42}, cfg.Telegram.OwnerUserIDs)
	assert.Equal(t, DefaultMaxInFlight, cfg.Broadcast.MaxInFlight)
	assert.Equal(t, DefaultReportEvery, cfg.Broadcast.ReportEvery)
	assert.Equal(t, DefaultPrefetch, cfg.Broadcast.Prefetch)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.IsEnabled())
	assert.Equal(t, "memory", cfg.Storage.Driver)
	require.NoError(t, Validate(cfg))
}

func TestParseRejectsUnknownFields(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"token":"x","owner_user_ids":[1]},"plugins":{}}`)
	_, err := NewConfigManager(p).Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugins")
}

func TestParseRejectsTrailingData(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"token":"x"}}{"telegram":{}}`)
	_, err := NewConfigManager(p).Parse()
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"token":"file-token","owner_user_ids":[1]}}`)
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("ADMIN_ID", "7, 8")
	t.Setenv("STORAGE_DRIVER", "badger")
	t.Setenv("STORAGE_PATH", "/tmp/castbot")
	t.Setenv("HTTP_ADDR", ":9090")

	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, []int64{7, 8}, cfg.Telegram.OwnerUserIDs)
	assert.Equal(t, "badger", cfg.Storage.Driver)
	assert.Equal(t, "/tmp/castbot", cfg.Storage.Path)
	assert.True(t, cfg.HTTP.IsEnabled())
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestEnvOnlyConfig(t *testing.T) {
	t.Setenv("BOT_TOKEN", "t")
	t.Setenv("ADMIN_ID", "99")
	cfg, err := NewConfigManager("").Parse()
	require.NoError(t, err)
	assert.True(t, cfg.IsOwner(99))
	assert.False(t, cfg.IsOwner(1))
	require.NoError(t, Validate(cfg))
}

func TestEnvRejectsBadAdminID(t *testing.T) {
	t.Setenv("ADMIN_ID", "abc")
	_, err := NewConfigManager("").Parse()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		c := &Config{Telegram: TelegramConfig{Token: "t", OwnerUserIDs: []int64{1}}}
		c.ApplyDefaults()
		return c
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, want: "Token"},
		{name: "no owners", mutate: func(c *Config) { c.Telegram.OwnerUserIDs = nil }, want: "OwnerUserIDs"},
		{name: "bad driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, want: "Driver"},
		{name: "redis without addr", mutate: func(c *Config) { c.Storage.Driver = "redis" }, want: "storage.redis_addr"},
		{name: "badger without path", mutate: func(c *Config) { c.Storage.Driver = "badger" }, want: "storage.path"},
		{name: "bad cron", mutate: func(c *Config) { c.Digest.Cron = "every day" }, want: "digest.cron"},
		{name: "bad duration", mutate: func(c *Config) { c.Telegram.PollTimeout = "soon" }, want: "telegram.poll_timeout"},
		{name: "bad group log", mutate: func(c *Config) { c.Telegram.GroupLog = "@logs" }, want: "telegram.group_log"},
		{name: "bad channel link", mutate: func(c *Config) { c.Bot.ChannelLink = "not a url" }, want: "ChannelLink"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.mutate(c)
			err := Validate(c)
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	oldCfg.ApplyDefaults()
	newCfg := *oldCfg
	newCfg.Broadcast.MaxInFlight = 5
	newCfg.Storage.Driver = "badger"

	changed, restart, attrs := SummarizeConfigChange(oldCfg, &newCfg)
	assert.Equal(t, []string{"broadcast"}, changed)
	assert.Equal(t, []string{"storage"}, restart)
	assert.NotEmpty(t, attrs)
}

func TestHTTPCanBeDisabled(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"token":"x","owner_user_ids":[1]},"http":{"enabled":false}}`)
	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)
	assert.False(t, cfg.HTTP.IsEnabled())
}

func TestParseYAMLStrict(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "unknown key", body: "telegram:\n  token: x\nplugins: {}\n", want: "plugins"},
		{name: "second document", body: "telegram:\n  token: x\n---\ntelegram:\n  token: y\n", want: "trailing data"},
		{name: "wrong type", body: "broadcast:\n  max_in_flight: lots\n", want: "yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, "config.yml", tt.body)
			_, err := NewConfigManager(p).Parse()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseSniffsFormatWithoutExtension(t *testing.T) {
	p := writeFile(t, "castbot.conf", `{"telegram":{"token":"j","owner_user_ids":[3]}}`)
	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)
	assert.Equal(t, "j", cfg.Telegram.Token)

	p = writeFile(t, "castbot.conf", "telegram:\n  token: y\n  owner_user_ids: [4]\n")
	cfg, err = NewConfigManager(p).Parse()
	require.NoError(t, err)
	assert.Equal(t, "y", cfg.Telegram.Token)
}

const reloadBase = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
storage:
  driver: memory
`

func TestReloadPublishesOnlyValidChanges(t *testing.T) {
	p := writeFile(t, "config.yaml", reloadBase)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx := context.Background()

	published, err := m.Reload(ctx)
	require.NoError(t, err)
	assert.False(t, published, "unchanged file")

	require.NoError(t, os.WriteFile(p, []byte(reloadBase+"broadcast:\n  max_in_flight: 5\n"), 0o600))
	published, err = m.Reload(ctx)
	require.NoError(t, err)
	assert.True(t, published)
	assert.Equal(t, 5, m.Get().Broadcast.MaxInFlight)
	select {
	case got := <-sub:
		assert.Equal(t, 5, got.Broadcast.MaxInFlight)
	default:
		t.Fatal("no config published")
	}

	require.NoError(t, os.WriteFile(p, []byte("telegram:\n  token: x\n"), 0o600))
	published, err = m.Reload(ctx)
	require.Error(t, err)
	assert.False(t, published)
	assert.Equal(t, []int64{42}, m.Get().Telegram.OwnerUserIDs, "rejected config not committed")
	assert.Empty(t, sub)
}

func TestPublishKeepsNewestForSlowSubscriber(t *testing.T) {
	p := writeFile(t, "config.yaml", reloadBase)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	for _, n := range []int{3, 4, 6} {
		c := *m.Get()
		c.Broadcast.MaxInFlight = n
		m.publish(&c)
	}
	require.Len(t, sub, 1)
	assert.Equal(t, 6, (<-sub).Broadcast.MaxInFlight)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	p := writeFile(t, "config.yaml", reloadBase)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// the watcher needs a moment to register before the write
	require.Eventually(t, func() bool {
		_ = os.WriteFile(p, []byte(reloadBase+"digest:\n  cron: \"0 9 * * 1\"\n"), 0o600)
		select {
		case got := <-sub:
			return got.Digest.Cron == "0 9 * * 1"
		default:
			return false
		}
	}, 5*time.Second, 300*time.Millisecond)
}
