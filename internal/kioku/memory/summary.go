package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// GroupLister enumerates every (conversation, thread) group that has at
// least one message.
type GroupLister interface {
	Groups(ctx context.Context) ([]Group, error)
}

// SummaryWriter persists a summary and returns its id.
type SummaryWriter interface {
	InsertSummary(ctx context.Context, s Summary) (int64, error)
}

// SummaryRunner compresses the unsummarised backlog of each group once it
// reaches a threshold. It polls on a timer; the store's insert hook takes
// care of embedding the new summary rows.
type SummaryRunner struct {
	trigger    *Trigger
	groups     GroupLister
	writer     SummaryWriter
	summariser Summariser
	threshold  int
	interval   time.Duration
	logger     *slog.Logger

	stopMu sync.Mutex
	stopCh chan struct{}
}

// NewSummaryRunner creates a runner. A threshold below 1 defaults to 20
// messages and a zero interval to 5 minutes.
func NewSummaryRunner(trigger *Trigger, groups GroupLister, writer SummaryWriter, summariser Summariser, threshold int, interval time.Duration, logger *slog.Logger) *SummaryRunner {
	if threshold < 1 {
		threshold = 20
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryRunner{
		trigger:    trigger,
		groups:     groups,
		writer:     writer,
		summariser: summariser,
		threshold:  threshold,
		interval:   interval,
		logger:     logger,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled or
// Stop is called. Call this in a goroutine.
func (r *SummaryRunner) Run(ctx context.Context) {
	r.stopMu.Lock()
	r.stopCh = make(chan struct{})
	stop := r.stopCh
	r.stopMu.Unlock()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Warn("summary runner: sweep failed", "err", err)
			}
		}
	}
}

// Stop signals the runner to stop. Safe to call multiple times.
func (r *SummaryRunner) Stop() {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()

	if r.stopCh != nil {
		select {
		case <-r.stopCh:
		default:
			close(r.stopCh)
		}
	}
}

// RunOnce sweeps every group and returns how many summaries were written.
// A failing group is logged and does not stop the sweep.
func (r *SummaryRunner) RunOnce(ctx context.Context) (int, error) {
	groups, err := r.groups.Groups(ctx)
	if err != nil {
		return 0, Persistence("list groups", err)
	}

	written := 0
	for _, g := range groups {
		ok, err := r.SummariseGroup(ctx, g)
		if err != nil {
			r.logger.Warn("summary runner: group failed",
				"conversation_id", g.ConversationID,
				"thread_id", g.Thread.String(),
				"err", err,
			)
			continue
		}
		if ok {
			written++
		}
	}
	return written, nil
}

// SummariseGroup writes one summary for g when its backlog has reached the
// threshold and reports whether it did.
func (r *SummaryRunner) SummariseGroup(ctx context.Context, g Group) (bool, error) {
	n, err := r.trigger.UnsummarizedCount(ctx, g)
	if err != nil {
		return false, err
	}
	if n < r.threshold {
		return false, nil
	}

	backlog, err := r.trigger.Backlog(ctx, g)
	if err != nil {
		return false, err
	}
	if len(backlog) == 0 {
		return false, nil
	}

	text, err := r.summariser.Summarise(ctx, backlog)
	if err != nil {
		return false, &ProviderError{Op: "summarise", Err: err}
	}
	if text == "" {
		r.logger.Debug("summary runner: summariser returned nothing",
			"conversation_id", g.ConversationID, "thread_id", g.Thread.String())
		return false, nil
	}

	s := Summary{
		ConversationID: g.ConversationID,
		Thread:         g.Thread,
		Summary:        text,
		From:           backlog[0].CreatedAt,
		To:             backlog[len(backlog)-1].CreatedAt,
		MessageCount:   len(backlog),
	}
	id, err := r.writer.InsertSummary(ctx, s)
	if err != nil {
		return false, Persistence("insert summary", err)
	}

	r.logger.Info("conversation summarised",
		"conversation_id", g.ConversationID,
		"thread_id", g.Thread.String(),
		"summary_id", id,
		"messages", len(backlog),
		"summary_len", len(text),
	)
	return true, nil
}
