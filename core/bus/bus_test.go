package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/identity-go/core/es"
)

type (
	greet     struct{ Name string }
	shout     struct{ Name string }
	greeting  struct{ Name string }
	countWord struct{ Word string }
)

func (greet) CommandName() string   { return "test.greet" }
func (shout) CommandName() string   { return "test.shout" }
func (greeting) QueryName() string  { return "test.greeting" }
func (countWord) QueryName() string { return "test.count_word" }

type recordingMetrics struct{ outcomes map[string]string }

func (m *recordingMetrics) Handled(kind, name, outcome string, _ time.Duration) {
	m.outcomes[kind+":"+name] = outcome
}

var errRejected = errors.New("rejected by rule")

func newTestBus(t *testing.T, m Metrics) *Bus {
	t.Helper()
	var greeted []string
	b, err := New(
		Options{
			Metrics: m,
			Classify: func(err error) string {
				if errors.Is(err, errRejected) {
					return OutcomeRejected
				}
				return OutcomeError
			},
		},
		HandleCommand(func(_ context.Context, cmd greet) error {
			if cmd.Name == "" {
				return errRejected
			}
			greeted = append(greeted, cmd.Name)
			return nil
		}),
		HandleQuery(func(_ context.Context, q greeting) (string, error) {
			return "hello " + q.Name, nil
		}),
		HandleQuery(func(_ context.Context, q countWord) (*int, error) {
			if q.Word == "" {
				return nil, nil
			}
			n := len(q.Word)
			return &n, nil
		}),
	)
	require.NoError(t, err)
	return b
}

func TestBus_Dispatch(t *testing.T) {
	m := &recordingMetrics{outcomes: map[string]string{}}
	b := newTestBus(t, m)

	require.NoError(t, b.Dispatch(t.Context(), greet{Name: "ada"}))
	require.Equal(t, OutcomeOK, m.outcomes["command:test.greet"])

	require.ErrorIs(t, b.Dispatch(t.Context(), greet{}), errRejected)
	require.Equal(t, OutcomeRejected, m.outcomes["command:test.greet"])

	require.ErrorIs(t, b.Dispatch(t.Context(), shout{Name: "x"}), ErrNoHandler)

	require.Equal(t, []string{"test.greet"}, b.Commands())
	require.Equal(t, []string{"test.count_word", "test.greeting"}, b.Queries())
}

func TestBus_Ask(t *testing.T) {
	b := newTestBus(t, nil)

	s, err := Ask[string](t.Context(), b, greeting{Name: "bob"})
	require.NoError(t, err)
	require.Equal(t, "hello bob", s)

	n, err := Ask[*int](t.Context(), b, countWord{Word: "four"})
	require.NoError(t, err)
	require.Equal(t, 4, *n)

	n, err = Ask[*int](t.Context(), b, countWord{})
	require.NoError(t, err)
	require.Nil(t, n)

	_, err = Ask[int](t.Context(), b, greeting{Name: "bob"})
	require.ErrorIs(t, err, ErrResultType)
}

type unregistered struct{}

func (unregistered) QueryName() string { return "test.unregistered" }

func TestBus_UnknownQuery(t *testing.T) {
	b := newTestBus(t, nil)
	_, err := Ask[string](t.Context(), b, unregistered{})
	require.ErrorIs(t, err, ErrNoHandler)
}

func TestBus_DuplicateRegistration(t *testing.T) {
	noop := func(context.Context, greet) error { return nil }
	_, err := New(Options{}, HandleCommand(noop), HandleCommand(noop))
	require.ErrorIs(t, err, ErrDuplicateHandler)

	q := func(context.Context, greeting) (string, error) { return "", nil }
	_, err = New(Options{}, HandleQuery(q), HandleQuery(q))
	require.ErrorIs(t, err, ErrDuplicateHandler)
}

func TestBus_IntegrityErrorsPassThrough(t *testing.T) {
	b, err := New(Options{}, HandleCommand(func(context.Context, greet) error {
		return &es.UnknownEventTypeError{Type: "x", By: "test"}
	}))
	require.NoError(t, err)
	require.ErrorIs(t, b.Dispatch(t.Context(), greet{Name: "a"}), es.ErrUnknownEventType)
}

// rename reads a field in its name method, which a nil pointer cannot do.
type rename struct{ prefix string }

func (c *rename) CommandName() string { return c.prefix + "test.rename" }

type lookup struct{ prefix string }

func (q *lookup) QueryName() string { return q.prefix + "test.lookup" }

func TestBus_PointerMessages(t *testing.T) {
	var renamed []string
	b, err := New(Options{},
		HandleCommand(func(_ context.Context, cmd *rename) error {
			renamed = append(renamed, cmd.prefix)
			return nil
		}),
		HandleQuery(func(_ context.Context, q *lookup) (string, error) { return "found", nil }),
	)
	require.NoError(t, err)
	require.Equal(t, []string{"test.rename"}, b.Commands())
	require.Equal(t, []string{"test.lookup"}, b.Queries())

	require.NoError(t, b.Dispatch(t.Context(), &rename{}))
	require.Len(t, renamed, 1)

	s, err := Ask[string](t.Context(), b, &lookup{})
	require.NoError(t, err)
	require.Equal(t, "found", s)

	require.ErrorIs(t, b.Dispatch(t.Context(), (*rename)(nil)), ErrUnexpectedMessage)
	_, err = Ask[string](t.Context(), b, (*lookup)(nil))
	require.ErrorIs(t, err, ErrUnexpectedMessage)
}

func TestBus_NilMessages(t *testing.T) {
	b := newTestBus(t, nil)

	require.ErrorIs(t, b.Dispatch(t.Context(), nil), ErrUnexpectedMessage)
	_, err := b.Ask(t.Context(), nil)
	require.ErrorIs(t, err, ErrUnexpectedMessage)
	_, err = Ask[string](t.Context(), b, nil)
	require.ErrorIs(t, err, ErrUnexpectedMessage)
}

func TestBus_EmptyRegistration(t *testing.T) {
	_, err := New(Options{}, Registration{})
	require.Error(t, err)
}
