// Package services – DigestService
//
// DigestService sends each registered user with open work a private message
// listing what is due today and what is overdue.
//
// A run has two phases:
//
//  1. Compose, inside one read transaction: list recipients, load today's and
//     overdue tasks for a single reference date computed once, resolve every
//     referenced chat in one batched query, build the texts.
//  2. Deliver, after the transaction is closed: send in recipient order,
//     paced by an optional rate limiter. A failed or panicking send is logged
//     with recipient context and counted; the loop always continues.
//
// Only phase-1 persistence errors and context cancellation are returned.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tbourn/deadline-master/internal/domain"
	"github.com/tbourn/deadline-master/internal/repo"
)

// Notifier delivers a text message to a private chat with a user.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// DigestReport summarizes a run for logs and metrics.
type DigestReport struct {
	Date       domain.Date `json:"date"`
	Recipients int         `json:"recipients"`
	Sent       int         `json:"sent"`
	Skipped    int         `json:"skipped"`
	Failed     int         `json:"failed"`
}

// DigestService composes and delivers daily digests.
type DigestService struct {
	DB       *gorm.DB
	Notifier Notifier

	// Now returns the current instant; defaults to time.Now.
	Now func() time.Time
	// Location defines the calendar day used for "today"; defaults to time.Local.
	Location *time.Location
	// Limiter paces sends. Nil means unpaced.
	Limiter *rate.Limiter
}

// NewDigestService constructs a DigestService sending at most rps messages
// per second with the given burst. rps <= 0 disables pacing.
func NewDigestService(db *gorm.DB, n Notifier, loc *time.Location, rps float64, burst int) *DigestService {
	s := &DigestService{DB: db, Notifier: n, Now: time.Now, Location: loc}
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		s.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return s
}

type digestMessage struct {
	user domain.User
	text string
}

// Run performs one digest run.
func (s *DigestService) Run(ctx context.Context) (DigestReport, error) {
	tr := otel.Tracer("services/DigestService")
	ctx, span := tr.Start(ctx, "Run")
	defer span.End()

	start := time.Now()
	defer func() { digestDuration.Observe(time.Since(start).Seconds()) }()

	if s.Notifier == nil {
		return DigestReport{}, ErrNoNotifier
	}

	report := DigestReport{Date: s.today()}
	span.SetAttributes(attribute.String("digest.date", report.Date.String()))

	msgs, recipients, err := s.compose(ctx, report.Date)
	if err != nil {
		span.RecordError(err)
		return report, err
	}
	report.Recipients = recipients
	report.Skipped = recipients - len(msgs)
	digestRuns.Inc()
	digestMessages.WithLabelValues(resultSkipped).Add(float64(report.Skipped))

	for _, m := range msgs {
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return report, ctxErr(ctx, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := s.deliver(ctx, m); err != nil {
			report.Failed++
			digestMessages.WithLabelValues(resultFailed).Inc()
			log.Warn().
				Err(err).
				Int64("user_id", m.user.ID).
				Int64("tg_id", *m.user.TgID).
				Str("username", m.user.Handle()).
				Msg("digest delivery failed")
			continue
		}
		report.Sent++
		digestMessages.WithLabelValues(resultSent).Inc()
	}

	span.SetAttributes(
		attribute.Int("digest.recipients", report.Recipients),
		attribute.Int("digest.sent", report.Sent),
		attribute.Int("digest.failed", report.Failed),
	)
	log.Info().
		Str("date", report.Date.String()).
		Int("recipients", report.Recipients).
		Int("sent", report.Sent).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("took", time.Since(start)).
		Msg("digest run finished")
	return report, nil
}

// compose is phase 1. It returns the messages to send in recipient order and
// the number of recipients considered.
func (s *DigestService) compose(ctx context.Context, today domain.Date) ([]digestMessage, int, error) {
	type pending struct {
		user           domain.User
		today, overdue []domain.Task
	}
	var (
		msgs  []digestMessage
		count int
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users, err := repo.ListUsersWithOpenTasks(ctx, tx)
		if err != nil {
			return fmt.Errorf("list recipients: %w", err)
		}
		count = len(users)

		rows := make([]pending, 0, len(users))
		var all []domain.Task
		for _, u := range users {
			due, err := repo.ListTasksForDate(ctx, tx, u.ID, today)
			if err != nil {
				return fmt.Errorf("today tasks for user %d: %w", u.ID, err)
			}
			late, err := repo.ListOverdueTasks(ctx, tx, u.ID, today)
			if err != nil {
				return fmt.Errorf("overdue tasks for user %d: %w", u.ID, err)
			}
			rows = append(rows, pending{user: u, today: due, overdue: late})
			all = append(all, due...)
			all = append(all, late...)
		}

		chats, err := repo.GetChatsByIDs(ctx, tx, chatIDs(all))
		if err != nil {
			return fmt.Errorf("load chats: %w", err)
		}
		for _, r := range rows {
			if r.user.TgID == nil {
				continue
			}
			text, ok := BuildDigest(r.today, r.overdue, chats)
			if !ok {
				continue
			}
			msgs = append(msgs, digestMessage{user: r.user, text: text})
		}
		return nil
	})
	return msgs, count, err
}

// deliver sends one digest. A panic in the notifier is turned into an error
// so one recipient cannot end the run.
func (s *DigestService) deliver(ctx context.Context, m digestMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return s.Notifier.Send(ctx, *m.user.TgID, m.text)
}

func (s *DigestService) today() domain.Date {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	return domain.DateOf(now().In(loc))
}

// ctxErr prefers the context's own error over the limiter's wrapped one.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("digest pacing: %w", err)
}
