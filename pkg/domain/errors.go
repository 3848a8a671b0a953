package domain

import "errors"

// sentinel errors for the core operations, checked with errors.Is.
// callers wrap them with feed/article context for logging.
var (
	// ErrFeedUnreachable indicates a network-level fetch failure or timeout.
	// retryable by re-triggering the refresh, never auto-retried internally.
	ErrFeedUnreachable = errors.New("feed unreachable")

	// ErrFeedUnparsable indicates the fetched document is not a valid feed.
	// not retryable without an upstream fix.
	ErrFeedUnparsable = errors.New("feed unparsable")

	// ErrDuplicateFeed indicates the owner already subscribes to this URL
	ErrDuplicateFeed = errors.New("duplicate feed subscription")

	// ErrFeedNotFound indicates an ownership-scoped feed lookup miss
	ErrFeedNotFound = errors.New("feed not found")

	// ErrArticleNotFound indicates an ownership-scoped article lookup miss
	ErrArticleNotFound = errors.New("article not found")

	// ErrTagConflict indicates a tag create/rename collides with an
	// existing tag of the same owner
	ErrTagConflict = errors.New("tag name already in use")

	// ErrEmptyContent indicates there is nothing to summarize
	ErrEmptyContent = errors.New("empty content")
)
