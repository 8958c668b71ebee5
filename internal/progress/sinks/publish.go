package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-news-archiver/internal/progress"
)

// Publisher delivers a payload to a topic and returns a message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// DateCompleted is the message published once a date finishes.
type DateCompleted struct {
	RunID               string    `json:"run_id"`
	Date                string    `json:"date"`
	ArticlesFound       int       `json:"articles_found"`
	ArticlesArchived    int       `json:"articles_archived"`
	ArticlesFailed      int       `json:"articles_failed"`
	ArticlesRateLimited int       `json:"articles_rate_limited"`
	KeywordsFiltered    int       `json:"keywords_filtered"`
	ExecutionSeconds    float64   `json:"execution_seconds"`
	CompletedAt         time.Time `json:"completed_at"`
}

// PublishSink announces each DATE_DONE event on a topic.
type PublishSink struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublishSink builds a PublishSink.
func NewPublishSink(publisher Publisher, topic string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes one message per completed date, stopping at the first failure.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Stage != progress.StageDateDone || evt.Summary == nil {
			continue
		}
		msg := DateCompleted{
			RunID:               evt.RunID.String(),
			Date:                evt.Date,
			ArticlesFound:       evt.Summary.ArticlesFound,
			ArticlesArchived:    evt.Summary.ArticlesArchived,
			ArticlesFailed:      evt.Summary.ArticlesFailed,
			ArticlesRateLimited: evt.Summary.ArticlesRateLimited,
			KeywordsFiltered:    evt.Summary.KeywordsFiltered,
			ExecutionSeconds:    evt.Summary.ExecutionTime,
			CompletedAt:         evt.Summary.CompletedAt,
		}
		id, err := s.publisher.Publish(ctx, s.topic, msg)
		if err != nil {
			return fmt.Errorf("publish date %s: %w", evt.Date, err)
		}
		s.logger.Debug("published date completion",
			zap.String("date", evt.Date),
			zap.String("message_id", id))
	}
	return nil
}

// Close implements the Sink interface.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
