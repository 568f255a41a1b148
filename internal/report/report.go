// Package report sends a daily outreach summary to the operator on a cron
// schedule evaluated in the business-hours timezone.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"leadbot/internal/storage"
	logx "leadbot/pkg/logx"
)

const DefaultSchedule = "0 22 * * *"

// Summarizer aggregates attempts since a point in time.
type Summarizer interface {
	Summarize(ctx context.Context, since time.Time) (storage.Summary, error)
}

// Notify delivers the rendered report.
type Notify func(ctx context.Context, text string) error

type Reporter struct {
	sum    Summarizer
	notify Notify
	log    logx.Logger
	now    func() time.Time

	parser cron.Parser
	loc    *time.Location
	spec   string

	mu sync.Mutex
	c  *cron.Cron
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec parses as a report schedule.
func ValidateSchedule(spec string) error {
	if _, err := scheduleParser.Parse(spec); err != nil {
		return fmt.Errorf("report schedule %q: %w", spec, err)
	}
	return nil
}

// New validates schedule (standard five fields or a descriptor such as
// "@daily").
func New(schedule string, loc *time.Location, sum Summarizer, notify Notify, log logx.Logger) (*Reporter, error) {
	if sum == nil || notify == nil {
		return nil, errors.New("report: summarizer and notify are required")
	}
	if strings.TrimSpace(schedule) == "" {
		schedule = DefaultSchedule
	}
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Reporter{
		sum:    sum,
		notify: notify,
		log:    log,
		now:    time.Now,
		parser: scheduleParser,
		loc:    loc,
		spec:   schedule,
	}
	if _, err := r.parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("report schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Run starts the cron and blocks until ctx ends; a report in flight is
// waited for.
func (r *Reporter) Run(ctx context.Context) error {
	r.mu.Lock()
	c := cron.New(cron.WithParser(r.parser), cron.WithLocation(r.loc))
	if _, err := c.AddFunc(r.spec, func() { r.fire(ctx) }); err != nil {
		r.mu.Unlock()
		return err
	}
	r.c = c
	r.mu.Unlock()

	c.Start()
	r.log.Info("daily report scheduled",
		logx.String("schedule", r.spec),
		logx.String("tz", r.loc.String()),
		logx.Time("next", r.Next()),
	)
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// Next is the next scheduled fire time, zero before Run.
func (r *Reporter) Next() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c == nil {
		return time.Time{}
	}
	if es := r.c.Entries(); len(es) > 0 {
		return es[0].Next
	}
	return time.Time{}
}

func (r *Reporter) fire(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := r.Send(sctx); err != nil {
		r.log.Warn("daily report failed", logx.Err(err))
	}
}

// Send builds today's report and delivers it.
func (r *Reporter) Send(ctx context.Context) error {
	text, err := r.Build(ctx)
	if err != nil {
		return err
	}
	return r.notify(ctx, text)
}

// Build renders the summary from local midnight until now.
func (r *Reporter) Build(ctx context.Context) (string, error) {
	now := r.now().In(r.loc)
	y, m, d := now.Date()
	since := time.Date(y, m, d, 0, 0, 0, 0, r.loc)

	s, err := r.sum.Summarize(ctx, since)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return Format(now, s), nil
}

// Format renders a summary as a chat message.
func Format(now time.Time, s storage.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📈 *Resumo do dia %s*\n\n", now.Format("02/01/2006"))
	fmt.Fprintf(&b, "Leads processados: %d\n", s.Leads)
	fmt.Fprintf(&b, "Leads contatados: %d\n", s.Contacted)
	fmt.Fprintf(&b, "Mensagens enviadas: %d/%d", s.Succeeded, s.Attempted)
	if s.Errors > 0 {
		fmt.Fprintf(&b, "\nErros: %d", s.Errors)
	}
	return b.String()
}
