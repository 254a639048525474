package services

import "errors"

var (
	// ErrFeedNotFound means the referenced feed does not exist.
	ErrFeedNotFound = errors.New("feed not found")

	// ErrArticleNotFound means the referenced article does not exist.
	ErrArticleNotFound = errors.New("article not found")

	// ErrInvalidURL means a subscription URL failed validation.
	ErrInvalidURL = errors.New("invalid feed URL")

	// ErrQueueFull means the task broker cannot accept more work.
	ErrQueueFull = errors.New("task queue is full")
)
