package consumer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/elonfeng/subledger/internal/metrics"
	"github.com/elonfeng/subledger/pkg/source"
)

// Ingester records a single item.
type Ingester interface {
	Ingest(ctx context.Context, item source.Item) error
}

// Consumer feeds the posts and replies streams through an Ingester, one item
// at a time.
type Consumer struct {
	posts    source.Stream
	replies  source.Stream
	ingester Ingester
	logger   *zap.Logger
}

// New creates a consumer over the two streams.
func New(posts, replies source.Stream, ing Ingester, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		posts:    posts,
		replies:  replies,
		ingester: ing,
		logger:   logger.Named("consumer"),
	}
}

// Run alternates between draining the posts stream and the replies stream
// until one of them yields a keepalive. It blocks until ctx is cancelled or
// an error other than a missing scope occurs.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		if err := c.drain(ctx, "posts", c.posts); err != nil {
			return c.stopped(err)
		}
		if err := c.drain(ctx, "replies", c.replies); err != nil {
			return c.stopped(err)
		}
	}
}

func (c *Consumer) stopped(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.logger.Info("consumer stopped")
	} else {
		c.logger.Error("consumer failed", zap.Error(err))
	}
	return err
}

// drain ingests items from s until it yields a keepalive or a scope error.
func (c *Consumer) drain(ctx context.Context, name string, s source.Stream) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, err := s.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, source.ErrScopeNotFound) {
				c.logger.Warn("watched community not found, continuing",
					zap.String("stream", name), zap.Error(err))
				metrics.RecordStreamError(name)
				return nil
			}
			return fmt.Errorf("%s stream: %w", name, err)
		}

		if item == nil {
			metrics.RecordKeepalive(name)
			return nil
		}

		if err := c.ingester.Ingest(ctx, item); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("ingest %s %s: %w", item.ItemKind(), item.ItemID(), err)
		}
		c.logger.Debug("item ingested",
			zap.String("stream", name),
			zap.String("kind", string(item.ItemKind())),
			zap.String("id", item.ItemID()))
	}
}
