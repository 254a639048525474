package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"aggreader/internal/aggregator"
	"aggreader/internal/database"
)

// FeedResult is the outcome of one aggregation run.
type FeedResult struct {
	Success        bool   `json:"success"`
	FeedID         int    `json:"feed_id"`
	FeedName       string `json:"feed_name"`
	AggregatorType string `json:"aggregator_type"`
	ArticlesCount  int    `json:"articles_count"`
	Error          string `json:"error,omitempty"`
}

// QueuedFeed acknowledges an asynchronously scheduled run.
type QueuedFeed struct {
	FeedID   int    `json:"feed_id"`
	FeedName string `json:"feed_name"`
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
}

// AggregationService orchestrates aggregation runs over feeds: resolve
// the aggregator, drive the pipeline, and shape per-feed results.
type AggregationService struct {
	db       database.Database
	registry *aggregator.Registry
	runner   *aggregator.Runner
	broker   *TaskBroker
}

func NewAggregationService(db database.Database, registry *aggregator.Registry, runner *aggregator.Runner, broker *TaskBroker) *AggregationService {
	return &AggregationService{
		db:       db,
		registry: registry,
		runner:   runner,
		broker:   broker,
	}
}

// AggregateFeed runs the pipeline for a single feed. A missing feed is
// an error; every other failure is reported inside the result so batch
// callers keep going.
func (s *AggregationService) AggregateFeed(ctx context.Context, feedID int, forceRefresh bool, overrides map[string]interface{}, articleLimit int) (*FeedResult, error) {
	feed, err := s.db.GetFeed(feedID)
	if err != nil {
		return nil, fmt.Errorf("failed to load feed %d: %w", feedID, err)
	}
	if feed == nil {
		return nil, fmt.Errorf("%w: id %d", ErrFeedNotFound, feedID)
	}

	result := &FeedResult{
		FeedID:         feed.ID,
		FeedName:       feed.Name,
		AggregatorType: feed.AggregatorID,
	}

	if !feed.Enabled {
		result.Error = "Feed is disabled"
		return result, nil
	}

	agg, err := s.registry.Get(feed.AggregatorID)
	if err != nil {
		// Permanent configuration error; stop retrying this feed.
		if disableErr := s.db.SetFeedEnabled(feed.ID, false); disableErr != nil {
			log.Printf("feed %d: failed to disable: %v", feed.ID, disableErr)
		}
		result.Error = err.Error()
		return result, nil
	}

	if _, err := s.runner.FeedOptions(agg, feed, overrides); err != nil {
		if disableErr := s.db.SetFeedEnabled(feed.ID, false); disableErr != nil {
			log.Printf("feed %d: failed to disable: %v", feed.ID, disableErr)
		}
		result.Error = fmt.Sprintf("invalid feed options: %v", err)
		return result, nil
	}

	runResult, err := s.runner.Run(ctx, agg, feed, aggregator.RunOptions{
		ForceRefresh: forceRefresh,
		ArticleLimit: articleLimit,
		Options:      overrides,
	})
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	result.Success = true
	result.ArticlesCount = runResult.Count()
	return result, nil
}

// AggregateByType runs every enabled feed of one aggregator type,
// either inline (sync) or through the task broker.
func (s *AggregationService) AggregateByType(ctx context.Context, aggregatorType string, limit int, forceRefresh, sync bool) ([]*FeedResult, []*QueuedFeed, error) {
	feeds, err := s.db.GetEnabledFeeds()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list enabled feeds: %w", err)
	}

	matching := feeds[:0]
	for _, feed := range feeds {
		if feed.AggregatorID == aggregatorType {
			matching = append(matching, feed)
		}
	}

	return s.runFeeds(ctx, matching, limit, forceRefresh, sync)
}

// AggregateAll runs every enabled feed.
func (s *AggregationService) AggregateAll(ctx context.Context, limit int, forceRefresh, sync bool) ([]*FeedResult, []*QueuedFeed, error) {
	feeds, err := s.db.GetEnabledFeeds()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list enabled feeds: %w", err)
	}
	return s.runFeeds(ctx, feeds, limit, forceRefresh, sync)
}

func (s *AggregationService) runFeeds(ctx context.Context, feeds []database.Feed, limit int, forceRefresh, sync bool) ([]*FeedResult, []*QueuedFeed, error) {
	if limit > 0 && len(feeds) > limit {
		feeds = feeds[:limit]
	}

	if sync {
		results := make([]*FeedResult, 0, len(feeds))
		for _, feed := range feeds {
			result, err := s.AggregateFeed(ctx, feed.ID, forceRefresh, nil, 0)
			if err != nil {
				if errors.Is(err, ErrFeedNotFound) {
					continue // deleted between listing and run
				}
				return nil, nil, err
			}
			results = append(results, result)
		}
		return results, nil, nil
	}

	queued := make([]*QueuedFeed, 0, len(feeds))
	for _, feed := range feeds {
		feedID := feed.ID
		taskName := fmt.Sprintf("aggregate_feed:%d", feedID)

		taskID, err := s.broker.Enqueue(taskName, func() (string, error) {
			result, err := s.AggregateFeed(context.Background(), feedID, forceRefresh, nil, 0)
			if err != nil {
				return "", err
			}
			payload, err := json.Marshal(result)
			if err != nil {
				return "", err
			}
			if !result.Success {
				return string(payload), fmt.Errorf("aggregation failed: %s", result.Error)
			}
			return string(payload), nil
		})
		if err != nil {
			return nil, queued, err
		}

		queued = append(queued, &QueuedFeed{
			FeedID:   feed.ID,
			FeedName: feed.Name,
			TaskID:   taskID,
			Status:   "queued",
		})
	}
	return nil, queued, nil
}

// ReloadArticle refetches one article and rebuilds its content and
// header image in place.
func (s *AggregationService) ReloadArticle(ctx context.Context, articleID int) (*FeedResult, error) {
	article, err := s.db.GetArticle(articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load article %d: %w", articleID, err)
	}
	if article == nil {
		return nil, fmt.Errorf("%w: id %d", ErrArticleNotFound, articleID)
	}

	feed, err := s.db.GetFeed(article.FeedID)
	if err != nil {
		return nil, fmt.Errorf("failed to load feed %d: %w", article.FeedID, err)
	}
	if feed == nil {
		return nil, fmt.Errorf("%w: id %d", ErrFeedNotFound, article.FeedID)
	}

	result := &FeedResult{
		FeedID:         feed.ID,
		FeedName:       feed.Name,
		AggregatorType: feed.AggregatorID,
	}

	agg, err := s.registry.Get(feed.AggregatorID)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	if err := s.runner.RebuildArticle(ctx, agg, feed, article); err != nil {
		result.Error = err.Error()
		return result, nil
	}

	result.Success = true
	result.ArticlesCount = 1
	return result, nil
}

// DeleteOldArticles removes articles older than months*30 days unless
// some user has starred them. Returns the number deleted.
func (s *AggregationService) DeleteOldArticles(months int) (int64, error) {
	if months <= 0 {
		months = 2
	}
	cutoff := time.Now().AddDate(0, 0, -months*30)
	return s.db.DeleteArticlesOlderThan(cutoff)
}
