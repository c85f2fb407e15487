package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/identity-go/config"
	"github.com/codewandler/identity-go/core/es"
	"github.com/codewandler/identity-go/identity/app"
	"github.com/codewandler/identity-go/identity/user"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(map[string]string{
		"IDENTITY_EVENT_STORE": "sqlite",
		"IDENTITY_SQLITE_PATH": filepath.Join(t.TempDir(), "identity.db"),
		"IDENTITY_BCRYPT_COST": "4",
		"IDENTITY_LOG_LEVEL":   "warn",
	})
	require.NoError(t, err)
	return cfg
}

func runCmd(t *testing.T, cfg config.Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(t.Context(), cfg, slog.New(slog.DiscardHandler), args, &out)
	return out.String(), err
}

func TestRunRegisterLoginWhois(t *testing.T) {
	cfg := testConfig(t)

	out, err := runCmd(t, cfg, "register", "-email", "Ada@Example.com", "-password", "correct horse", "-name", "Ada")
	require.NoError(t, err)
	var registered struct{ ID string }
	require.NoError(t, json.Unmarshal([]byte(out), &registered))
	require.NotEmpty(t, registered.ID)

	// every run is a fresh process: the read model is rebuilt from sqlite
	out, err = runCmd(t, cfg, "whois", "-email", "ada@example.com")
	require.NoError(t, err)
	var data app.AuthData
	require.NoError(t, json.Unmarshal([]byte(out), &data))
	assert.Equal(t, registered.ID, data.ID)
	assert.Equal(t, []string{app.RoleUser}, data.Roles)

	_, err = runCmd(t, cfg, "login", "-id", registered.ID, "-password", "correct horse")
	require.NoError(t, err)

	_, err = runCmd(t, cfg, "login", "-id", registered.ID, "-password", "wrong horse")
	require.ErrorIs(t, err, user.ErrAuthenticationRejected)

	_, err = runCmd(t, cfg, "register", "-email", "ada@example.com", "-password", "another one")
	var rejected *user.RegistrationRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, user.EmailAlreadyInUse, rejected.Reason)

	out, err = runCmd(t, cfg, "rebuild")
	require.NoError(t, err)
	var res struct {
		Events uint64 `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	// registered, email claimed, logged in
	assert.Equal(t, uint64(3), res.Events)
}

func TestRunWhoisUnknown(t *testing.T) {
	_, err := runCmd(t, testConfig(t), "whois", "-email", "nobody@example.com")
	require.ErrorContains(t, err, "no user with email")
}

func TestRunLoadtest(t *testing.T) {
	out, err := runCmd(t, testConfig(t), "loadtest", "-n", "20", "-batch", "10", "-workers", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "users: 20")
}

func TestRunUsage(t *testing.T) {
	cfg := testConfig(t)

	_, err := runCmd(t, cfg)
	require.ErrorIs(t, err, errUsage)

	_, err = runCmd(t, cfg, "frobnicate")
	require.ErrorIs(t, err, errUsage)

	_, err = runCmd(t, cfg, "loadtest", "-n", "0")
	require.ErrorIs(t, err, errUsage)
}

// flakyProjection fails its first failures deliveries, then records the
// event types it sees.
type flakyProjection struct {
	mu       sync.Mutex
	failures int
	calls    int
	seen     []string
}

func (p *flakyProjection) Name() string { return "flaky" }

func (p *flakyProjection) Handle(ctx es.MsgCtx) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures > 0 {
		p.failures--
		return errors.New("downstream unavailable")
	}
	p.seen = append(p.seen, ctx.Type())
	return nil
}

func (p *flakyProjection) snapshot() (calls int, seen []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, append([]string(nil), p.seen...)
}

func TestService_RedeliversAfterCommand(t *testing.T) {
	flaky := &flakyProjection{failures: 1}
	svc, err := newService(t.Context(), testConfig(t), slog.New(slog.DiscardHandler), flaky)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	var out bytes.Buffer
	require.NoError(t, svc.exec(t.Context(), runRegister, []string{"-email", "lin@example.com", "-password", "correct horse"}, &out))

	// the first of the two events failed once and came back
	calls, seen := flaky.snapshot()
	assert.Equal(t, 3, calls)
	assert.ElementsMatch(t, []string{"identity.email_claimed", "identity.user_registered"}, seen)
	assert.Empty(t, svc.store.Pending())
}

func TestService_RedeliversOnClose(t *testing.T) {
	// both events fail at commit, the claim fails once more after the command
	flaky := &flakyProjection{failures: 3}
	svc, err := newService(t.Context(), testConfig(t), slog.New(slog.DiscardHandler), flaky)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, svc.exec(t.Context(), runRegister, []string{"-email", "kim@example.com", "-password", "correct horse"}, &out))
	require.Len(t, svc.store.Pending(), 1)

	require.NoError(t, svc.Close())
	assert.Empty(t, svc.store.Pending())
	_, seen := flaky.snapshot()
	assert.Len(t, seen, 2)
}
