package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-classwall/internal/models"
)

const (
	// ChannelPosts is notified by the posts trigger with the changed post id.
	ChannelPosts = "posts_changed"
	// ChannelComments is notified by the comments trigger with the parent post id.
	ChannelComments = "comments_changed"

	listenerPingInterval = 90 * time.Second
)

// Listener is the subset of *pq.Listener used by LiveQuery.
type Listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

type watch struct {
	channel string
	key     string
	refresh func(context.Context)
}

// LiveQuery turns LISTEN/NOTIFY into full result-set callbacks.
// Every notification on a channel re-runs the query of each matching watch.
// A nil notification (reconnect) refreshes every watch since changes may have been missed.
type LiveQuery struct {
	listener Listener
	logger   *zap.Logger

	mu        sync.Mutex
	nextID    uint64
	watches   map[uint64]watch
	listening map[string]bool
}

// NewLiveQuery wraps the listener.
func NewLiveQuery(listener Listener, logger *zap.Logger) *LiveQuery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveQuery{
		listener:  listener,
		logger:    logger,
		watches:   make(map[uint64]watch),
		listening: make(map[string]bool),
	}
}

// Subscription cancels a watch when closed.
type Subscription struct {
	once  sync.Once
	close func()
}

// Close stops delivering results. Safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(s.close)
}

// Watch runs query now and again on every change notified on channel for key.
// An empty key matches every notification. deliver receives each full result set;
// query failures are logged and skipped.
func Watch[T any](ctx context.Context, lq *LiveQuery, channel, key string, query func(context.Context) ([]T, error), deliver func([]T)) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	var mu sync.Mutex
	refresh := func(runCtx context.Context) {
		mu.Lock()
		defer mu.Unlock()
		if subCtx.Err() != nil {
			return
		}
		items, err := query(runCtx)
		if err != nil {
			lq.logger.Warn("live query refresh failed", zap.String("channel", channel), zap.String("key", key), zap.Error(err))
			return
		}
		if subCtx.Err() != nil {
			return
		}
		deliver(items)
	}

	id, err := lq.add(watch{channel: channel, key: key, refresh: refresh})
	if err != nil {
		cancel()
		return nil, err
	}
	sub := &Subscription{close: func() {
		cancel()
		lq.remove(id)
	}}
	refresh(subCtx)
	return sub, nil
}

func (lq *LiveQuery) add(w watch) (uint64, error) {
	lq.mu.Lock()
	defer lq.mu.Unlock()
	if !lq.listening[w.channel] {
		if err := lq.listener.Listen(w.channel); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
			return 0, err
		}
		lq.listening[w.channel] = true
	}
	lq.nextID++
	lq.watches[lq.nextID] = w
	return lq.nextID, nil
}

func (lq *LiveQuery) remove(id uint64) {
	lq.mu.Lock()
	delete(lq.watches, id)
	lq.mu.Unlock()
}

func (lq *LiveQuery) matching(n *pq.Notification) []watch {
	lq.mu.Lock()
	defer lq.mu.Unlock()
	out := make([]watch, 0, len(lq.watches))
	for _, w := range lq.watches {
		if n == nil || (w.channel == n.Channel && (w.key == "" || n.Extra == "" || w.key == n.Extra)) {
			out = append(out, w)
		}
	}
	return out
}

// Dispatch refreshes the watches matching the notification.
func (lq *LiveQuery) Dispatch(ctx context.Context, n *pq.Notification) {
	for _, w := range lq.matching(n) {
		w.refresh(ctx)
	}
}

// Run consumes notifications until ctx is done.
func (lq *LiveQuery) Run(ctx context.Context) {
	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-lq.listener.NotificationChannel():
			if !ok {
				return
			}
			if n == nil {
				lq.logger.Info("live query resync after reconnect")
			}
			lq.Dispatch(ctx, n)
		case <-ticker.C:
			if err := lq.listener.Ping(); err != nil {
				lq.logger.Warn("pg listener ping failed", zap.Error(err))
			}
		}
	}
}

// Close releases the listener connection.
func (lq *LiveQuery) Close() error {
	return lq.listener.Close()
}

// FeedWatcher exposes the wall and comment thread live queries.
type FeedWatcher struct {
	live     *LiveQuery
	posts    *PostRepository
	comments *CommentRepository
}

// NewFeedWatcher binds the live query to the post and comment repositories.
func NewFeedWatcher(live *LiveQuery, posts *PostRepository, comments *CommentRepository) *FeedWatcher {
	return &FeedWatcher{live: live, posts: posts, comments: comments}
}

// WatchWall delivers the newest limit posts now and after every post change.
func (w *FeedWatcher) WatchWall(ctx context.Context, limit int, deliver func([]models.Post)) (func(), error) {
	sub, err := Watch(ctx, w.live, ChannelPosts, "", func(ctx context.Context) ([]models.Post, error) {
		return w.posts.ListWall(ctx, limit)
	}, deliver)
	if err != nil {
		return nil, err
	}
	return sub.Close, nil
}

// WatchThread delivers the comments of a post now and after every change to them.
func (w *FeedWatcher) WatchThread(ctx context.Context, postID string, deliver func([]models.Comment)) (func(), error) {
	sub, err := Watch(ctx, w.live, ChannelComments, postID, func(ctx context.Context) ([]models.Comment, error) {
		return w.comments.ListByPost(ctx, postID)
	}, deliver)
	if err != nil {
		return nil, err
	}
	return sub.Close, nil
}
