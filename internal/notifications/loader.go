package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/meshmart/notify/internal/broker"
	"github.com/meshmart/notify/internal/readstate"
)

// loadMessages begins consumption for every subject in the session's
// fixed subject list. Subjects are processed independently: a failure
// on one never aborts the others. The call returns once every subject
// has begun consumption; backlog drains continue in the background for
// the lifetime of the session.
func (s *Service) loadMessages(ctx context.Context, bus broker.MessageBus, store *readstate.Store, agg *aggregator, user string, projects []string) error {
	for _, subject := range SubjectsFor(user, projects) {
		s.processSubject(ctx, bus, store, agg, subject, user)
	}
	return nil
}

// processSubject resolves the stream behind one subject, creates a
// durable consumer over its full history, snapshots the subject's
// read-ID list once, and starts the asynchronous drain. Errors are
// logged and leave the subject contributing no messages.
//
// The read-ID snapshot is deliberately taken once, at drain start: a
// read-state mutation arriving mid-drain does not retroactively apply
// to messages already pulled in that drain. ReadMessages re-checks the
// persisted list when recomputing the unread count, which bounds the
// divergence.
func (s *Service) processSubject(ctx context.Context, bus broker.MessageBus, store *readstate.Store, agg *aggregator, subject Subject, user string) {
	logger := s.logger.With().Str("subject", subject.Name).Logger()

	stream, err := bus.StreamForSubject(ctx, subject.Name)
	if err != nil {
		if errors.Is(err, broker.ErrNoStream) {
			logger.Error().Msgf("No stream bound for subject %s, skipping", subject.Name)
			s.metrics.SubjectDrainsTotal.WithLabelValues("missing_stream").Inc()
		} else {
			logger.Error().Err(err).Msg("Failed to resolve stream")
			s.metrics.SubjectDrainsTotal.WithLabelValues("failed").Inc()
		}
		return
	}

	cons, err := bus.Consumer(ctx, stream, broker.ConsumerSpec{
		Durable:       DurableName(subject.Name, user),
		FilterSubject: subject.Name,
	})
	if err != nil {
		logger.Error().Err(err).Str("stream", stream).Msg("Failed to create consumer")
		s.metrics.SubjectDrainsTotal.WithLabelValues("failed").Inc()
		return
	}

	readIDs, err := store.ReadIDs(ctx, subject.ReadKey)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load read-state snapshot")
		s.metrics.SubjectDrainsTotal.WithLabelValues("failed").Inc()
		return
	}

	iter, err := cons.Messages()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open message iterator")
		s.metrics.SubjectDrainsTotal.WithLabelValues("failed").Inc()
		return
	}

	s.conn.Register(subject.Name, iter.Stop)
	go func() {
		<-ctx.Done()
		_ = iter.Stop()
	}()

	// An empty backlog still completes this subject's drain: publish
	// the current cumulative snapshot so observers converge even when
	// some subjects have no history.
	if cons.Pending() == 0 {
		msgs, unread := agg.finalize()
		s.hub.publish(Update{Kind: UpdateMessages, Messages: msgs, Unread: unread})
		s.metrics.SubjectDrainsTotal.WithLabelValues("completed").Inc()
		go s.drain(subject, iter, agg, toSet(readIDs), true)
		return
	}

	go s.drain(subject, iter, agg, toSet(readIDs), false)
}

// drain iterates a subject's message feed, handing each raw message to
// the aggregator. Per-message failures are logged individually and do
// not abort the iteration. Whenever the broker reports no further
// pending messages, the cumulative collection is re-sorted, recounted
// and republished; afterwards the loop keeps following the live tail.
func (s *Service) drain(subject Subject, iter broker.MessageIter, agg *aggregator, readIDs map[string]struct{}, drained bool) {
	logger := s.logger.With().Str("subject", subject.Name).Logger()
	started := time.Now()

	for {
		raw, err := iter.Next()
		if err != nil {
			if errors.Is(err, broker.ErrIterClosed) {
				logger.Debug().Msg("Message iterator closed, ending drain")
			} else {
				logger.Error().Err(err).Msg("Message iteration failed, ending drain")
			}
			return
		}

		msg, live := agg.ingest(subject.Name, raw.Header(broker.MsgIDHeader), raw.Data(), readIDs)
		if err := raw.Ack(); err != nil {
			logger.Warn().Err(err).Msg("Failed to ack message")
		}

		if live && msg != nil {
			s.hub.publish(Update{Kind: UpdateLive, Live: msg})
		}

		if raw.Pending() == 0 {
			msgs, unread := agg.finalize()
			s.hub.publish(Update{Kind: UpdateMessages, Messages: msgs, Unread: unread})

			if !drained {
				drained = true
				s.metrics.SubjectDrainsTotal.WithLabelValues("completed").Inc()
				s.metrics.DrainDuration.Observe(time.Since(started).Seconds())
				logger.Debug().Int("total", len(msgs)).Msg("Subject backlog drained")
			}
		}
	}
}
