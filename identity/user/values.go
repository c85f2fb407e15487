package user

import (
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	MinPasswordLength    = 8
	MaxDisplayNameLength = 50
	MinimumAge           = 18

	dateLayout = "2006-01-02"
)

var validate = validator.New()

// === ID ===

type ID struct{ u uuid.UUID }

func NewID() ID { return ID{u: uuid.New()} }

func ParseID(s string) (ID, error) {
	if strings.TrimSpace(s) == "" {
		return ID{}, invalid("id", "must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, invalid("id", "must be a valid UUID")
	}
	return ID{u: u}, nil
}

func (id ID) String() string { return id.u.String() }
func (id ID) IsZero() bool   { return id.u == uuid.Nil }

// === Email ===

// Email is trimmed and lower-cased; two emails are equal when their
// normalized forms are.
type Email struct{ v string }

func ParseEmail(s string) (Email, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	if n == "" {
		return Email{}, invalid("email", "must not be empty")
	}
	if err := validate.Var(n, "required,email"); err != nil {
		return Email{}, invalid("email", "must be a valid email address")
	}
	return Email{v: n}, nil
}

func (e Email) String() string { return e.v }

// === PlainPassword ===

// PlainPassword never prints its value.
type PlainPassword struct{ v string }

func ParsePlainPassword(s string) (PlainPassword, error) {
	switch {
	case s == "":
		return PlainPassword{}, invalid("password", "must not be empty")
	case strings.TrimSpace(s) == "":
		return PlainPassword{}, invalid("password", "must not be blank")
	case utf8.RuneCountInString(s) < MinPasswordLength:
		return PlainPassword{}, invalid("password", "must be at least 8 characters")
	}
	return PlainPassword{v: s}, nil
}

func (p PlainPassword) Reveal() string       { return p.v }
func (p PlainPassword) String() string       { return "********" }
func (p PlainPassword) LogValue() slog.Value { return slog.StringValue("********") }

// === HashedPassword ===

type HashedPassword struct{ v string }

func ParseHashedPassword(s string) (HashedPassword, error) {
	if s == "" {
		return HashedPassword{}, invalid("password_hash", "must not be empty")
	}
	return HashedPassword{v: s}, nil
}

func (h HashedPassword) String() string { return h.v }

// Verify reports whether plain matches the hash.
func (h HashedPassword) Verify(plain string) bool {
	if h.v == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(h.v), []byte(plain)) == nil
}

// === DateOfBirth ===

// DateOfBirth is a calendar date, held as midnight UTC.
type DateOfBirth struct{ t time.Time }

func ParseDateOfBirth(s string) (DateOfBirth, error) {
	if len(s) != len(dateLayout) {
		return DateOfBirth{}, invalid("date_of_birth", "must be formatted as YYYY-MM-DD")
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return DateOfBirth{}, invalid("date_of_birth", "must be formatted as YYYY-MM-DD")
	}
	return DateOfBirth{t: t}, nil
}

func (d DateOfBirth) String() string  { return d.t.Format(dateLayout) }
func (d DateOfBirth) Time() time.Time { return d.t }

// AgeAt returns the number of whole years between the date and the UTC date of ref.
func (d DateOfBirth) AgeAt(ref time.Time) int {
	ref = ref.UTC()
	age := ref.Year() - d.t.Year()
	if ref.Month() < d.t.Month() || (ref.Month() == d.t.Month() && ref.Day() < d.t.Day()) {
		age--
	}
	return age
}

// IsAfter reports whether the date (at midnight UTC) lies strictly after ref.
func (d DateOfBirth) IsAfter(ref time.Time) bool { return d.t.After(ref) }

// === DisplayName ===

type DisplayName struct{ v string }

func ParseDisplayName(s string) (DisplayName, error) {
	n := norm.NFC.String(strings.TrimSpace(s))
	if n == "" {
		return DisplayName{}, invalid("display_name", "must not be empty")
	}
	if utf8.RuneCountInString(n) > MaxDisplayNameLength {
		return DisplayName{}, invalid("display_name", "must be at most 50 characters")
	}
	return DisplayName{v: n}, nil
}

func (n DisplayName) String() string { return n.v }
