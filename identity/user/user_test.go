package user

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/codewandler/identity-go/core/es"
)

var registeredAt = time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

type fixture struct {
	id       ID
	email    Email
	password string
	hash     HashedPassword
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	email, err := ParseEmail("ada@example.com")
	require.NoError(t, err)
	plain, err := ParsePlainPassword("correct horse battery")
	require.NoError(t, err)
	hash, err := NewBcryptHasher(bcrypt.MinCost).Hash(plain)
	require.NoError(t, err)
	return fixture{id: NewID(), email: email, password: plain.Reveal(), hash: hash}
}

func dob(t *testing.T, s string) DateOfBirth {
	t.Helper()
	d, err := ParseDateOfBirth(s)
	require.NoError(t, err)
	return d
}

func TestRegister_EmitsOneNormalizedEvent(t *testing.T) {
	f := newFixture(t)
	name, err := ParseDisplayName(" Ada ")
	require.NoError(t, err)

	u, err := Register(f.id, f.email, f.hash, registeredAt,
		WithDateOfBirth(dob(t, "1990-12-10")),
		WithDisplayName(name),
	)
	require.NoError(t, err)

	events := u.ReleaseEvents()
	require.Len(t, events, 1)
	require.Equal(t, &UserRegistered{
		UserID:       f.id.String(),
		Email:        "ada@example.com",
		PasswordHash: f.hash.String(),
		DateOfBirth:  "1990-12-10",
		DisplayName:  "Ada",
		RegisteredAt: registeredAt,
	}, events[0])
	require.Empty(t, u.ReleaseEvents())

	require.Equal(t, f.id, u.ID())
	require.Equal(t, f.id.String(), u.GetID())
	require.Equal(t, f.email, u.Email())
	require.Equal(t, registeredAt, u.RegisteredAt())
	require.True(t, u.LastLoginAt().IsZero())
	gotName, ok := u.DisplayName()
	require.True(t, ok)
	require.Equal(t, "Ada", gotName.String())
	gotDob, ok := u.DateOfBirth()
	require.True(t, ok)
	require.Equal(t, "1990-12-10", gotDob.String())
}

func TestRegister_WithoutOptionalFields(t *testing.T) {
	f := newFixture(t)
	u, err := Register(f.id, f.email, f.hash, registeredAt)
	require.NoError(t, err)

	_, ok := u.DateOfBirth()
	require.False(t, ok)
	_, ok = u.DisplayName()
	require.False(t, ok)

	events := u.ReleaseEvents()
	require.Len(t, events, 1)
	ev := events[0].(*UserRegistered)
	require.Empty(t, ev.DateOfBirth)
	require.Empty(t, ev.DisplayName)
}

func TestRegister_AgeGate(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		dob    string
		reason RejectionReason
	}{
		{name: "age 15", dob: "2009-01-01", reason: UserTooYoung},
		{name: "one day short of 18", dob: "2006-06-16", reason: UserTooYoung},
		{name: "born on registration day", dob: "2024-06-15", reason: UserTooYoung},
		{name: "born tomorrow", dob: "2024-06-16", reason: DateOfBirthInTheFuture},
		{name: "far future", dob: "2100-01-01", reason: DateOfBirthInTheFuture},
		{name: "exactly 18", dob: "2006-06-15"},
		{name: "adult", dob: "1970-01-01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := Register(f.id, f.email, f.hash, registeredAt, WithDateOfBirth(dob(t, tc.dob)))
			if tc.reason == "" {
				require.NoError(t, err)
				require.Len(t, u.ReleaseEvents(), 1)
				return
			}
			require.ErrorIs(t, err, ErrRegistrationRejected)
			require.True(t, IsRejectedFor(err, tc.reason), "got %v", err)
			require.Nil(t, u)
		})
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	registered, err := Register(f.id, f.email, f.hash, registeredAt)
	require.NoError(t, err)

	u, err := Reconstitute(registered.ReleaseEvents())
	require.NoError(t, err)
	require.Empty(t, u.ReleaseEvents())

	t.Run("wrong password records nothing", func(t *testing.T) {
		err := u.Login("wrong password!", registeredAt.Add(time.Hour))
		require.ErrorIs(t, err, ErrAuthenticationRejected)
		require.Empty(t, u.Recorded())
		require.True(t, u.LastLoginAt().IsZero())
	})

	t.Run("right password records UserLoggedIn", func(t *testing.T) {
		now := registeredAt.Add(2 * time.Hour)
		require.NoError(t, u.Login(f.password, now))
		events := u.ReleaseEvents()
		require.Equal(t, []es.Event{&UserLoggedIn{UserID: f.id.String(), LoggedInAt: now}}, events)
		require.Equal(t, now, u.LastLoginAt())
	})
}

func TestReconstitute_ReplayEquivalence(t *testing.T) {
	f := newFixture(t)

	live, err := Register(f.id, f.email, f.hash, registeredAt, WithDateOfBirth(dob(t, "1990-01-01")))
	require.NoError(t, err)
	require.NoError(t, live.Login(f.password, registeredAt.Add(time.Hour)))
	require.NoError(t, live.Login(f.password, registeredAt.Add(2*time.Hour)))
	events := live.ReleaseEvents()
	require.Len(t, events, 3)

	replayed, err := Reconstitute(events)
	require.NoError(t, err)
	require.Empty(t, replayed.ReleaseEvents())

	require.Equal(t, live.ID(), replayed.ID())
	require.Equal(t, live.Email(), replayed.Email())
	require.Equal(t, live.RegisteredAt(), replayed.RegisteredAt())
	require.Equal(t, live.LastLoginAt(), replayed.LastLoginAt())
	liveDob, _ := live.DateOfBirth()
	replayedDob, _ := replayed.DateOfBirth()
	require.Equal(t, liveDob, replayedDob)

	for _, pw := range []string{f.password, "wrong password!"} {
		liveErr := live.Login(pw, registeredAt.Add(3*time.Hour))
		replayedErr := replayed.Login(pw, registeredAt.Add(3*time.Hour))
		require.Equal(t, liveErr, replayedErr)
	}
}

type strangeEvent struct{}

func (strangeEvent) EventType() string     { return "identity.strange" }
func (strangeEvent) AggregateID() string   { return "x" }
func (strangeEvent) OccurredAt() time.Time { return time.Time{} }

func TestReconstitute_Errors(t *testing.T) {
	f := newFixture(t)
	registered, err := Register(f.id, f.email, f.hash, registeredAt)
	require.NoError(t, err)
	events := registered.ReleaseEvents()

	_, err = Reconstitute(append(events, strangeEvent{}))
	require.ErrorIs(t, err, es.ErrUnknownEventType)

	_, err = Reconstitute(append(events, events[0]))
	require.Error(t, err)

	_, err = Reconstitute([]es.Event{&UserLoggedIn{UserID: f.id.String(), LoggedInAt: registeredAt}})
	require.Error(t, err)

	_, err = Reconstitute(nil)
	require.Error(t, err)
}
