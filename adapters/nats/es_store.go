package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/identity-go/core/es"
)

const (
	defaultSubjectPrefix = "identity.es"
	defaultStreamName    = "IDENTITY_ES"
	fetchBatch           = 100

	// errCodeWrongLastSequence is returned by the server when an
	// expected-last-subject-sequence header does not match.
	errCodeWrongLastSequence jetstream.ErrorCode = 10071
)

type EventStoreConfig struct {
	Connect       Connector    // Connect opens the connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix of every event subject (default "identity.es")
	StreamName    string       // StreamName of the backing stream (default "IDENTITY_ES")
	// MemoryStorage keeps the stream in server memory, for tests.
	MemoryStorage bool
}

// EventStore keeps one subject per stream, <prefix>.<agg type>.<agg id>, in
// a single JetStream stream. The stream sequence is the global sequence.
//
// Appends are guarded by the expected last sequence of the subject, so a
// concurrent writer is rejected by the server. A multi-event append is
// published event by event: a crash in between leaves a prefix of the batch.
type EventStore struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
}

func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	storage := jetstream.FileStorage
	if cfg.MemoryStorage {
		storage = jetstream.MemoryStorage
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	log.Debug("ensuring stream")

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Retention:  jetstream.LimitsPolicy,
		Storage:    storage,
		DenyDelete: true,
		DenyPurge:  true,
		FirstSeq:   1,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}

	return &EventStore{
		nc:            nc,
		closeNc:       closeNc,
		js:            js,
		stream:        stream,
		log:           log,
		subjectPrefix: subjectPrefix,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) Version(ctx context.Context, aggType, aggID string) (es.Version, error) {
	last, err := e.last(ctx, aggType, aggID)
	if err != nil || last == nil {
		return 0, err
	}
	return last.Version, nil
}

func (e *EventStore) Load(ctx context.Context, aggType, aggID string) ([]es.Envelope, error) {
	last, err := e.last(ctx, aggType, aggID)
	if err != nil || last == nil {
		return nil, err
	}
	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{e.subject(aggType, aggID)},
	})
	if err != nil {
		return nil, err
	}
	return e.consume(ctx, cc, last.Seq, 0)
}

// ReadAll reads every stream after afterSeq in stream order.
func (e *EventStore) ReadAll(ctx context.Context, afterSeq uint64, limit int) ([]es.Envelope, error) {
	info, err := e.stream.Info(ctx)
	if err != nil {
		return nil, err
	}
	if info.State.LastSeq <= afterSeq {
		return nil, nil
	}
	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy: jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:   afterSeq + 1,
	})
	if err != nil {
		return nil, err
	}
	return e.consume(ctx, cc, info.State.LastSeq, limit)
}

// consume fetches until the message at endSeq or limit envelopes were read.
func (e *EventStore) consume(ctx context.Context, cc jetstream.Consumer, endSeq uint64, limit int) ([]es.Envelope, error) {
	var out []es.Envelope
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch := fetchBatch
		if limit > 0 {
			batch = min(batch, limit-len(out))
		}
		mb, err := cc.FetchNoWait(batch)
		if err != nil {
			return nil, err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			env, err := decodeMsg(msg)
			if err != nil {
				return nil, fmt.Errorf("decode message: %w", err)
			}
			out = append(out, *env)
			if env.Seq >= endSeq || (limit > 0 && len(out) >= limit) {
				return out, nil
			}
		}
		if err := mb.Error(); err != nil {
			return nil, err
		}
		if empty {
			return out, nil
		}
	}
}

func (e *EventStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expected es.Version,
	envelopes []es.Envelope,
) (*es.AppendResult, error) {
	if err := es.CheckAppend(aggType, aggID, expected, envelopes); err != nil {
		return nil, err
	}

	var lastSubjectSeq uint64
	last, err := e.last(ctx, aggType, aggID)
	if err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if last != nil {
		lastSubjectSeq = last.Seq
	}
	if actual := versionOf(last); actual != expected {
		return nil, es.NewConcurrencyConflict(aggType, aggID, expected, actual)
	}

	res := &es.AppendResult{Envelopes: make([]es.Envelope, 0, len(envelopes))}
	for i, env := range envelopes {
		seq, err := e.publish(ctx, aggType, env, lastSubjectSeq)
		if err != nil {
			var apiErr *jetstream.APIError
			if errors.As(err, &apiErr) && apiErr.ErrorCode == errCodeWrongLastSequence {
				actual, _ := e.Version(ctx, aggType, aggID)
				return nil, es.NewConcurrencyConflict(aggType, aggID, expected.Next(i), actual)
			}
			return nil, fmt.Errorf("publish %s v%d: %w", env.Type, env.Version, err)
		}
		env.Seq = seq
		lastSubjectSeq = seq
		res.Envelopes = append(res.Envelopes, env)
	}
	res.LastSeq = lastSubjectSeq

	e.log.Debug(
		"appended",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		expected.SlogAttrWithKey("expected"),
		slog.Int("num_events", len(envelopes)),
	)
	return res, nil
}

func (e *EventStore) publish(ctx context.Context, aggType string, env es.Envelope, lastSubjectSeq uint64) (uint64, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return 0, err
	}
	msg := natsgo.NewMsg(e.subject(aggType, env.AggregateID))
	msg.Header.Set("x-event-type", env.Type)
	msg.Header.Set("x-aggregate-type", aggType)
	msg.Header.Set("x-aggregate-id", env.AggregateID)
	msg.Data = data

	ack, err := e.js.PublishMsg(
		ctx,
		msg,
		jetstream.WithMsgID(env.ID),
		jetstream.WithExpectLastSequencePerSubject(lastSubjectSeq),
	)
	if err != nil {
		return 0, err
	}
	return ack.Sequence, nil
}

func (e *EventStore) last(ctx context.Context, aggType, aggID string) (*es.Envelope, error) {
	subject := e.subject(aggType, aggID)
	raw, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	env := &es.Envelope{}
	if err := json.Unmarshal(raw.Data, env); err != nil {
		return nil, fmt.Errorf("decode last message of %s: %w", subject, err)
	}
	env.Seq = raw.Sequence
	return env, nil
}

func versionOf(env *es.Envelope) es.Version {
	if env == nil {
		return 0
	}
	return env.Version
}

func decodeMsg(msg jetstream.Msg) (*es.Envelope, error) {
	md, err := msg.Metadata()
	if err != nil {
		return nil, err
	}
	env := &es.Envelope{}
	if err := json.Unmarshal(msg.Data(), env); err != nil {
		return nil, err
	}
	env.Seq = md.Sequence.Stream
	return env, nil
}

// subject encodes the aggregate id because ids such as email addresses may
// contain '.', which NATS reads as a token separator.
func (e *EventStore) subject(aggType, aggID string) string {
	return e.subjectPrefix + "." + aggType + "." + base64.RawURLEncoding.EncodeToString([]byte(aggID))
}

var (
	_ es.EventStore   = (*EventStore)(nil)
	_ es.GlobalReader = (*EventStore)(nil)
)
