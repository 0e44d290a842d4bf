// Package scheduler runs pricing rounds: it fans rows out to a bounded set of
// goroutines while serializing every access to the shared rule source.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fairyhunter13/price-follower/internal/model"
	"github.com/fairyhunter13/price-follower/internal/obs"
	"github.com/fairyhunter13/price-follower/internal/pricing"
	"github.com/fairyhunter13/price-follower/internal/quota"
)

// Source is the shared row-oriented rule store.
type Source interface {
	PendingRows(ctx context.Context) ([]*model.Rule, error)
	Hydrate(ctx context.Context, r *model.Rule) error
	WriteResult(ctx context.Context, r *model.Rule, res model.Result) error
}

// Pricer computes the final price for a rule.
type Pricer interface {
	Price(ctx context.Context, r *model.Rule) (pricing.Result, error)
}

// QuotaChecker snapshots the update quota and the observed price of a rule.
type QuotaChecker interface {
	Check(ctx context.Context, r *model.Rule) (model.QuotaState, error)
}

// PriceWriter pushes a new price to the marketplace.
type PriceWriter interface {
	UpdatePrice(ctx context.Context, offerID string, price float64) error
}

// Recorder keeps row reports for the status API.
type Recorder interface {
	Upsert(rep model.RowReport)
}

// Options tunes a Scheduler. Zero values take the defaults noted per field.
type Options struct {
	// Workers bounds concurrently processed rows (default 1).
	Workers int
	// Interval is the pause after a completed round (default 60s).
	Interval time.Duration
	// RetryDelay is the pause after a failed round (default 30s).
	RetryDelay time.Duration
	// ResultTimeout bounds a row's note write once the round context is
	// cancelled (default 10s).
	ResultTimeout time.Duration

	Observer Observer
	Recorder Recorder
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

// RoundStats summarizes one round.
type RoundStats struct {
	Round        uint64
	Rows         int
	Updated      int
	Skipped      int
	NotFollowing int
	Failed       int
	Duration     time.Duration
}

// Counters are cumulative since start.
type Counters struct {
	Rounds       uint64    `json:"rounds"`
	RoundsFailed uint64    `json:"rounds_failed"`
	Rows         uint64    `json:"rows_processed"`
	Updated      uint64    `json:"rows_updated"`
	Skipped      uint64    `json:"rows_skipped"`
	NotFollowing uint64    `json:"rows_not_following"`
	Failed       uint64    `json:"rows_failed"`
	InFlight     int64     `json:"rows_in_flight"`
	Workers      int       `json:"workers"`
	LastRoundAt  time.Time `json:"last_round_at"`
	LastRoundMs  int64     `json:"last_round_ms"`
}

// Scheduler processes pending rows round after round.
type Scheduler struct {
	src    Source
	pricer Pricer
	quota  QuotaChecker
	writer PriceWriter
	opts   Options

	gate *semaphore.Weighted
	seq  Sequencer

	rounds, roundsFailed                         atomic.Uint64
	rows, updated, skipped, notFollowing, failed atomic.Uint64
	inFlight                                     atomic.Int64

	mu          sync.Mutex
	lastRoundAt time.Time
	lastRound   time.Duration
}

// New builds a Scheduler.
func New(src Source, pricer Pricer, q QuotaChecker, writer PriceWriter, opts Options) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 30 * time.Second
	}
	if opts.ResultTimeout <= 0 {
		opts.ResultTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Scheduler{
		src:    src,
		pricer: pricer,
		quota:  q,
		writer: writer,
		opts:   opts,
		gate:   semaphore.NewWeighted(1),
	}
}

// Run repeats rounds until ctx is cancelled. A failed round is logged and
// retried after RetryDelay.
func (s *Scheduler) Run(ctx context.Context) error {
	obs.Logger.Info("scheduler_started", "workers", s.opts.Workers, "interval_s", s.opts.Interval.Seconds())
	for {
		delay := s.opts.Interval
		stats, err := s.RunRound(ctx)
		if ctx.Err() != nil {
			obs.Logger.Info("scheduler_stopped")
			return nil
		}
		if err != nil {
			s.roundsFailed.Add(1)
			delay = s.opts.RetryDelay
			obs.Logger.Error("round_failed", "round", stats.Round, "error", err.Error(), "retry_in_s", delay.Seconds())
		} else {
			obs.Logger.Info("round_done",
				"round", stats.Round,
				"rows", stats.Rows,
				"updated", stats.Updated,
				"skipped", stats.Skipped,
				"not_following", stats.NotFollowing,
				"failed", stats.Failed,
				"duration_ms", stats.Duration.Milliseconds(),
				"next_round_in_s", delay.Seconds(),
			)
		}
		if err := s.opts.Sleep(ctx, delay); err != nil {
			obs.Logger.Info("scheduler_stopped")
			return nil
		}
	}
}

// RunRound enumerates pending rows and processes them with at most Workers
// rows in flight. It returns once every admitted row is done.
func (s *Scheduler) RunRound(ctx context.Context) (stats RoundStats, err error) {
	stats.Round = s.seq.Next()
	start := s.opts.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("round panic: %v", r)
		}
		stats.Duration = s.opts.Now().Sub(start)
		s.rounds.Add(1)
		s.mu.Lock()
		s.lastRoundAt = start
		s.lastRound = stats.Duration
		s.mu.Unlock()
		obs.Metrics.RoundDuration(ctx, stats.Duration)
	}()

	var rules []*model.Rule
	err = s.withGate(ctx, func(ctx context.Context) error {
		var lerr error
		rules, lerr = s.src.PendingRows(ctx)
		return lerr
	})
	if err != nil {
		return stats, fmt.Errorf("list pending rows: %w", err)
	}
	if len(rules) == 0 {
		obs.Logger.Info("no_pending_rows", "round", stats.Round)
		return stats, nil
	}
	obs.Logger.Info("round_started", "round", stats.Round, "rows", len(rules), "workers", s.opts.Workers)

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(s.opts.Workers)
	for _, rule := range rules {
		if ctx.Err() != nil {
			break
		}
		rule := rule
		// Go blocks while Workers rows are in flight.
		g.Go(func() error {
			rep := s.processRow(ctx, stats.Round, rule)
			mu.Lock()
			stats.Rows++
			switch {
			case rep.State == Failed.String():
				stats.Failed++
			case rep.Status == model.StatusUpdated:
				stats.Updated++
			case rep.Status == model.StatusNotFollowing:
				stats.NotFollowing++
			default:
				stats.Skipped++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return stats, nil
}

// row carries one rule through its states. written is set once the
// marketplace accepted the new price.
type row struct {
	s       *Scheduler
	rule    *model.Rule
	state   State
	rep     model.RowReport
	written bool
}

func (r *row) move(to State) {
	from := r.state
	r.state = to
	r.rep.State = to.String()
	if r.s.opts.Observer != nil {
		r.s.opts.Observer(r.rule.Row, from, to)
	}
	obs.Logger.Debug("row_transition", "row", r.rule.Row, "from", from.String(), "to", to.String())
}

func (s *Scheduler) processRow(ctx context.Context, round uint64, rule *model.Rule) (rep model.RowReport) {
	r := &row{s: s, rule: rule, state: Pending}
	r.rep = model.RowReport{Row: rule.Row, Round: round, State: Pending.String(), StartedAt: s.opts.Now()}

	s.inFlight.Add(1)
	obs.Metrics.Inflight(ctx, 1)
	defer func() {
		if p := recover(); p != nil {
			s.fail(ctx, r, fmt.Errorf("panic: %v", p))
		}
		failed := r.state == Failed && !r.written
		r.move(Done)
		if failed {
			r.rep.State = Failed.String()
		}
		r.rep.StatusText = r.rep.Status.String()
		r.rep.FinishedAt = s.opts.Now()
		s.account(r.rep, failed)
		s.inFlight.Add(-1)
		obs.Metrics.Inflight(ctx, -1)
		obs.Metrics.RowDone(ctx, r.rep.StatusText, failed)
		if s.opts.Recorder != nil {
			s.opts.Recorder.Upsert(r.rep)
		}
		obs.Logger.Info("row_done",
			"row", rule.Row,
			"round", round,
			"status", r.rep.StatusText,
			"failed", failed,
			"duration_ms", r.rep.FinishedAt.Sub(r.rep.StartedAt).Milliseconds(),
		)
		rep = r.rep
	}()

	obs.Logger.Info("row_started", "row", rule.Row, "round", round)
	r.move(Hydrating)
	if err := s.withGate(ctx, func(ctx context.Context) error { return s.src.Hydrate(ctx, rule) }); err != nil {
		s.fail(ctx, r, err)
		return r.rep
	}

	outcome, err := s.evaluate(ctx, r)
	if err != nil {
		s.fail(ctx, r, err)
		return r.rep
	}
	r.rep.Status = outcome.Status
	r.rep.FinalPrice = outcome.FinalPrice
	r.rep.Note = outcome.Note

	r.move(LoggingResult)
	res := model.Result{Note: outcome.Note, LastUpdate: s.opts.Now()}
	if err := s.record(ctx, rule, res); err != nil {
		s.fail(ctx, r, fmt.Errorf("write result: %w", err))
		return r.rep
	}

	if rule.Relax > 0 {
		obs.Logger.Info("row_relax", "row", rule.Row, "relax_s", rule.Relax.Seconds())
		_ = s.opts.Sleep(ctx, rule.Relax)
	}
	return r.rep
}

// evaluate validates, prices, checks quota, decides and, when allowed,
// writes the new price.
func (s *Scheduler) evaluate(ctx context.Context, r *row) (model.Outcome, error) {
	rule := r.rule
	if err := pricing.Validate(rule); err != nil {
		var ve *pricing.ValidationError
		if !errors.As(err, &ve) {
			return model.Outcome{}, err
		}
		obs.Logger.Warn("row_invalid", "row", rule.Row, "error", err.Error())
		r.move(Skipped)
		return model.NotWritten(model.StatusSkipped, validationNote(s.opts.Now(), ve)), nil
	}

	r.move(Pricing)
	priced, err := s.pricer.Price(ctx, rule)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("pricing: %w", err)
	}

	r.move(QuotaCheck)
	state, err := s.quota.Check(ctx, rule)
	if err != nil {
		return model.Outcome{}, fmt.Errorf("quota: %w", err)
	}

	status, reason := pricing.Decide(rule, priced.Final, priced.Analysis)
	narrative := pricing.Narrative(s.opts.Now(), rule, priced.Final, reason, priced.Analysis)

	switch status {
	case model.StatusUpdated:
		if !quota.Permits(state) {
			r.move(Skipped)
			obs.Logger.Warn("quota_exhausted", "row", rule.Row, "next_free_in_min", state.Minutes)
			return model.NotWritten(model.StatusUpdated,
				fmt.Sprintf("Quota = 0. Next free in: %d minutes\n", state.Minutes)+narrative), nil
		}
		r.move(Writing)
		if err := s.writer.UpdatePrice(ctx, rule.OfferID, priced.Final); err != nil {
			return model.Outcome{}, fmt.Errorf("update price: %w", err)
		}
		r.written = true
		r.rep.Status = model.StatusUpdated
		r.rep.FinalPrice = model.Ptr(priced.Final)
		obs.Metrics.PriceUpdate(ctx)
		obs.Logger.Info("price_updated",
			"row", rule.Row,
			"offer_id", rule.OfferID,
			"price", priced.Final,
			"competitor", priced.Analysis.Competitor,
			"quota_free", state.Free,
		)
		return model.Updated(priced.Final, fmt.Sprintf("Quota remain: %d times\n", state.Free)+narrative), nil
	case model.StatusNotFollowing:
		r.move(Skipped)
		return model.NotWritten(status, fmt.Sprintf("Quota remain: %d times\n", state.Free)+narrative), nil
	default:
		r.move(Skipped)
		obs.Logger.Info("row_skipped", "row", rule.Row, "reason", string(reason))
		return model.NotWritten(status, narrative), nil
	}
}

// fail logs err and writes it best-effort to the row's note. A row whose
// price already reached the marketplace keeps its updated status.
func (s *Scheduler) fail(ctx context.Context, r *row, err error) {
	r.move(Failed)
	if !r.written {
		r.rep.Status = model.StatusSkipped
		r.rep.FinalPrice = nil
	}
	r.rep.Error = err.Error()
	r.rep.Note = "Error: " + err.Error()
	obs.Logger.Error("row_failed", "row", r.rule.Row, "error", err.Error(), "price_written", r.written)

	if werr := s.record(ctx, r.rule, model.Result{Note: r.rep.Note}); werr != nil {
		obs.Logger.Error("row_error_note_failed", "row", r.rule.Row, "error", werr.Error())
	}
}

// record writes a row's result through the gate. It is detached from ctx
// cancellation so a row admitted before shutdown still gets its note,
// bounded by ResultTimeout instead.
func (s *Scheduler) record(ctx context.Context, rule *model.Rule, res model.Result) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ResultTimeout)
	defer cancel()
	return s.withGate(ctx, func(ctx context.Context) error { return s.src.WriteResult(ctx, rule, res) })
}

func (s *Scheduler) account(rep model.RowReport, failed bool) {
	s.rows.Add(1)
	switch {
	case failed:
		s.failed.Add(1)
	case rep.Status == model.StatusUpdated:
		s.updated.Add(1)
	case rep.Status == model.StatusNotFollowing:
		s.notFollowing.Add(1)
	default:
		s.skipped.Add(1)
	}
}

// withGate runs fn while holding the exclusive source gate.
func (s *Scheduler) withGate(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.gate.Release(1)
	return fn(ctx)
}

// Counters returns cumulative counters.
func (s *Scheduler) Counters() Counters {
	s.mu.Lock()
	at, last := s.lastRoundAt, s.lastRound
	s.mu.Unlock()
	return Counters{
		Rounds:       s.rounds.Load(),
		RoundsFailed: s.roundsFailed.Load(),
		Rows:         s.rows.Load(),
		Updated:      s.updated.Load(),
		Skipped:      s.skipped.Load(),
		NotFollowing: s.notFollowing.Load(),
		Failed:       s.failed.Load(),
		InFlight:     s.inFlight.Load(),
		Workers:      s.opts.Workers,
		LastRoundAt:  at,
		LastRoundMs:  last.Milliseconds(),
	}
}

// Round returns the number of the current or last round.
func (s *Scheduler) Round() uint64 { return s.seq.Current() }

func validationNote(now time.Time, ve *pricing.ValidationError) string {
	note := now.Format("02/01/2006 15:04:05") + " Validation failed:\n"
	for _, p := range ve.Problems {
		note += "- " + p + "\n"
	}
	return note
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
