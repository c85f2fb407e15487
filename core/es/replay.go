package es

import (
	"context"
	"fmt"
	"log/slog"
)

const rebuildBatchSize = 500

// RebuildResult summarizes a replay.
type RebuildResult struct {
	Events  int
	LastSeq uint64
}

// Rebuild replays every committed envelope in global order into the given
// projections, marking each MsgCtx as a replay. It stops at the first
// decode or handler error: a rebuild that skipped events would silently
// produce a wrong read model.
func Rebuild(ctx context.Context, reader GlobalReader, decoder Decoder, projections ...Projection) (RebuildResult, error) {
	var (
		res RebuildResult
		log = slog.Default().With(slog.String("component", "rebuild"))
	)
	for {
		batch, err := reader.ReadAll(ctx, res.LastSeq, rebuildBatchSize)
		if err != nil {
			return res, fmt.Errorf("read after seq %d: %w", res.LastSeq, err)
		}
		if len(batch) == 0 {
			break
		}
		for _, env := range batch {
			evt, err := decoder.Decode(env)
			if err != nil {
				return res, fmt.Errorf("seq %d: %w", env.Seq, err)
			}
			msgCtx := NewMsgCtx(ctx, log, env, evt)
			msgCtx.replay = true
			for _, p := range projections {
				if err := p.Handle(msgCtx); err != nil {
					return res, fmt.Errorf("projection %s at seq %d: %w", p.Name(), env.Seq, err)
				}
			}
			res.Events++
			res.LastSeq = env.Seq
		}
	}
	log.Info("rebuild done", slog.Int("events", res.Events), slog.Uint64("last_seq", res.LastSeq))
	return res, nil
}
