package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/immxrtalbeast/marketcall/internal/domain"
	"github.com/immxrtalbeast/marketcall/internal/repository/model"
	"github.com/immxrtalbeast/marketcall/lib/logger/sl"
)

type (
	sessionLoader   func(ctx context.Context) (*model.CallSession, error)
	candidateLoader func(ctx context.Context, after int64) ([]domain.IceCandidate, error)
	incomingLoader  func(ctx context.Context) ([]domain.IncomingCall, error)
)

// pollLoop runs step on every tick until ctx is done.
func pollLoop(ctx context.Context, interval time.Duration, step func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		step(ctx)
	}
}

// sessionFeed reports a session row only when its version moved. A deleted and
// recreated row differs by creation time even when the version restarts.
type sessionFeed struct {
	last string
	cb   func(*domain.CallSession)
}

func (f *sessionFeed) observe(row *model.CallSession) {
	if v := sessionVersion(row); v != f.last {
		f.last = v
		f.cb(toDomainSession(row))
	}
}

func sessionVersion(row *model.CallSession) string {
	if row == nil {
		return ""
	}
	return fmt.Sprintf("%d/%d", row.CreatedAt.UnixNano(), row.Version)
}

// candidateCursor passes on candidates past the highest seq already delivered.
type candidateCursor struct {
	last int64
}

func (c *candidateCursor) advance(batch []domain.IceCandidate) []domain.IceCandidate {
	var out []domain.IceCandidate
	for _, cand := range batch {
		if cand.Seq <= c.last {
			continue
		}
		c.last = cand.Seq
		out = append(out, cand)
	}
	return out
}

// incomingFeed reports an incoming list only when it differs from the last one.
type incomingFeed struct {
	last []domain.IncomingCall
	cb   func([]domain.IncomingCall)
}

func (f *incomingFeed) observe(calls []domain.IncomingCall) {
	if domain.SameIncoming(f.last, calls) {
		return
	}
	f.last = calls
	f.cb(calls)
}

func watchSession(ctx context.Context, interval time.Duration, log *slog.Logger, initial *model.CallSession, load sessionLoader, cb func(*domain.CallSession)) {
	feed := &sessionFeed{last: sessionVersion(initial), cb: cb}
	cb(toDomainSession(initial))

	pollLoop(ctx, interval, func(ctx context.Context) {
		row, err := load(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("poll failed", sl.Err(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		feed.observe(row)
	})
}

func watchCandidates(ctx context.Context, interval time.Duration, log *slog.Logger, initial []domain.IceCandidate, load candidateLoader, cb func([]domain.IceCandidate)) {
	var cursor candidateCursor
	deliver := func(batch []domain.IceCandidate) {
		if fresh := cursor.advance(batch); len(fresh) > 0 && ctx.Err() == nil {
			cb(fresh)
		}
	}
	deliver(initial)

	pollLoop(ctx, interval, func(ctx context.Context) {
		batch, err := load(ctx, cursor.last)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("poll failed", sl.Err(err))
			}
			return
		}
		deliver(batch)
	})
}

func watchIncoming(ctx context.Context, interval time.Duration, log *slog.Logger, initial []domain.IncomingCall, load incomingLoader, cb func([]domain.IncomingCall)) {
	feed := &incomingFeed{last: initial, cb: cb}
	cb(initial)

	pollLoop(ctx, interval, func(ctx context.Context) {
		calls, err := load(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("poll failed", sl.Err(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		feed.observe(calls)
	})
}
