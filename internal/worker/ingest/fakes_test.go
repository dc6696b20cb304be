package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/subwatch/internal/content"
	"github.com/hitoshi/subwatch/internal/fanout"
	"github.com/hitoshi/subwatch/internal/model"
	"github.com/hitoshi/subwatch/internal/repository"
	"github.com/hitoshi/subwatch/internal/watermark"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// countingLocker は取得と解放の回数を数えるLocker。
type countingLocker struct {
	mu       sync.Mutex
	held     bool
	deny     bool
	lockErr  error
	acquires int
	releases int
}

func (l *countingLocker) TryLock(_ context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lockErr != nil {
		return false, l.lockErr
	}
	if l.deny || l.held {
		return false, nil
	}
	l.held = true
	l.acquires++
	return true, nil
}

func (l *countingLocker) Unlock(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		l.held = false
	}
	l.releases++
	return nil
}

// memDB はリポジトリ群をメモリ上で再現するテスト用データベース。
type memDB struct {
	mu sync.Mutex

	subscriptions map[string][]string // subreddit -> userIDs
	watermarks    map[string]*model.Watermark
	items         map[string]*model.ContentItem // nativeID -> item
	userPosts     map[[2]string]bool
	tags          map[string][]*model.Tag
	associations  map[[3]string]bool

	listSubsCalls int
	listSubsErr   error
	insertErr     error
	nextID        int
}

func newMemDB() *memDB {
	return &memDB{
		subscriptions: map[string][]string{},
		watermarks:    map[string]*model.Watermark{},
		items:         map[string]*model.ContentItem{},
		userPosts:     map[[2]string]bool{},
		tags:          map[string][]*model.Tag{},
		associations:  map[[3]string]bool{},
	}
}

func (db *memDB) subscribe(userID, subreddit string) {
	db.subscriptions[subreddit] = append(db.subscriptions[subreddit], userID)
}

// memSubRepo

type memSubRepo struct{ *memDB }

func (r memSubRepo) ListSubscribedSubreddits(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listSubsCalls++
	if r.listSubsErr != nil {
		return nil, r.listSubsErr
	}
	var subs []string
	for sub, users := range r.subscriptions {
		if len(users) > 0 {
			subs = append(subs, sub)
		}
	}
	sort.Strings(subs)
	return subs, nil
}

func (r memSubRepo) ListUserIDsBySubreddit(_ context.Context, subreddit string) ([]string, error) {
	return r.subscriptions[subreddit], nil
}

func (r memSubRepo) FindByUserAndSubreddit(_ context.Context, _, _ string) (*model.Subscription, error) {
	return nil, nil
}

func (r memSubRepo) ListByUserID(_ context.Context, _ string) ([]*model.Subscription, error) {
	return nil, nil
}

func (r memSubRepo) Create(_ context.Context, _ *model.Subscription) error { return nil }

func (r memSubRepo) Delete(_ context.Context, _, _ string) (bool, error) { return false, nil }

// memWatermarkRepo

type memWatermarkRepo struct{ *memDB }

func (r memWatermarkRepo) FindBySubreddits(_ context.Context, subreddits []string) (map[string]*model.Watermark, error) {
	result := map[string]*model.Watermark{}
	for _, s := range subreddits {
		if wm, ok := r.watermarks[s]; ok {
			cp := *wm
			result[s] = &cp
		}
	}
	return result, nil
}

func (r memWatermarkRepo) MarkFetched(_ context.Context, subreddit string, at time.Time, defaultInterval int) error {
	wm, ok := r.watermarks[subreddit]
	if !ok {
		wm = &model.Watermark{Subreddit: subreddit, RefreshIntervalMinutes: defaultInterval}
		r.watermarks[subreddit] = wm
	}
	if wm.LastFetchedAt == nil || at.After(*wm.LastFetchedAt) {
		t := at
		wm.LastFetchedAt = &t
	}
	wm.ConsecutiveErrors = 0
	wm.LastErrorAt = nil
	wm.LastError = nil
	return nil
}

func (r memWatermarkRepo) MarkFailed(_ context.Context, subreddit string, at time.Time, message string, defaultInterval int) error {
	wm, ok := r.watermarks[subreddit]
	if !ok {
		wm = &model.Watermark{Subreddit: subreddit, RefreshIntervalMinutes: defaultInterval}
		r.watermarks[subreddit] = wm
	}
	wm.ConsecutiveErrors++
	t := at
	wm.LastErrorAt = &t
	wm.LastError = &message
	return nil
}

// memContentRepo

type memContentRepo struct{ *memDB }

func (r memContentRepo) InsertIgnore(_ context.Context, item *model.ContentItem) (model.InsertResult, error) {
	if r.insertErr != nil {
		return model.InsertResult{}, r.insertErr
	}
	if _, ok := r.items[item.NativeID]; ok {
		return model.InsertResult{Conflict: true}, nil
	}
	r.memDB.nextID++
	stored := *item
	stored.ID = fmt.Sprintf("item-%d", r.memDB.nextID)
	r.items[item.NativeID] = &stored
	return model.InsertResult{Inserted: &stored}, nil
}

func (r memContentRepo) FindByNativeID(_ context.Context, nativeID string) (*model.ContentItem, error) {
	return r.items[nativeID], nil
}

func (r memContentRepo) LatestPostCreatedAt(_ context.Context, subreddits []string) (map[string]time.Time, error) {
	result := map[string]time.Time{}
	for _, item := range r.items {
		if !item.IsPost() {
			continue
		}
		for _, s := range subreddits {
			if item.Subreddit == s && item.CreatedAt.After(result[s]) {
				result[s] = item.CreatedAt
			}
		}
	}
	return result, nil
}

func (r memContentRepo) ListBySubreddit(_ context.Context, _ string) ([]*model.ContentItem, error) {
	return nil, nil
}

// memUserPostRepo

type memUserPostRepo struct{ *memDB }

func (r memUserPostRepo) InsertIgnore(_ context.Context, userID, contentItemID string) (bool, error) {
	key := [2]string{userID, contentItemID}
	if r.userPosts[key] {
		return false, nil
	}
	r.userPosts[key] = true
	return true, nil
}

func (r memUserPostRepo) FindByID(_ context.Context, _, _ string) (*model.UserPost, error) {
	return nil, nil
}

func (r memUserPostRepo) UpdateStatus(_ context.Context, _ *model.UserPost) error { return nil }

func (r memUserPostRepo) ListNewWithContent(_ context.Context, _ string, _ int) ([]*model.UserPostWithContent, error) {
	return nil, nil
}

// memTagRepo

type memTagRepo struct{ *memDB }

func (r memTagRepo) ListWithTermsByUserID(_ context.Context, userID string) ([]*model.Tag, error) {
	return r.tags[userID], nil
}

func (r memTagRepo) InsertAssociationsIgnore(_ context.Context, userID, contentItemID string, tagIDs []string) (int, error) {
	n := 0
	for _, id := range tagIDs {
		key := [3]string{userID, contentItemID, id}
		if !r.associations[key] {
			r.associations[key] = true
			n++
		}
	}
	return n, nil
}

func (r memTagRepo) Delete(_ context.Context, _, _ string) (bool, error) { return false, nil }

var (
	_ repository.SubscriptionRepository = memSubRepo{}
	_ repository.WatermarkRepository    = memWatermarkRepo{}
	_ repository.ContentRepository      = memContentRepo{}
	_ repository.UserPostRepository     = memUserPostRepo{}
	_ repository.TagRepository          = memTagRepo{}
)

// mockClient はSearchClientのテスト用モック。
type mockClient struct {
	mu          sync.Mutex
	posts       map[string][]*model.ContentItem
	replies     map[string][]*model.ContentItem
	failSources map[string]error
	replyErr    error
	panicOn     string
	fetchCalls  []string
	gotAfter    map[string]int64
	replyCalls  int
}

func (c *mockClient) FetchSource(_ context.Context, subreddit string, after int64) ([]*model.ContentItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if subreddit == c.panicOn {
		panic("unexpected nil pointer in client")
	}
	c.fetchCalls = append(c.fetchCalls, subreddit)
	if c.gotAfter == nil {
		c.gotAfter = map[string]int64{}
	}
	c.gotAfter[subreddit] = after
	if err := c.failSources[subreddit]; err != nil {
		return nil, err
	}
	return c.posts[subreddit], nil
}

func (c *mockClient) FetchReplies(_ context.Context, nativeID string) ([]*model.ContentItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replyCalls++
	if c.replyErr != nil {
		return nil, c.replyErr
	}
	return c.replies[nativeID], nil
}

// mockDispatcher はDispatcherのテスト用モック。
type mockDispatcher struct {
	calls     int
	gotCounts map[string]int
	err       error
}

func (d *mockDispatcher) Dispatch(_ context.Context, newCounts map[string]int) (model.EmailStats, error) {
	d.calls++
	d.gotCounts = newCounts
	if d.err != nil {
		return model.EmailStats{}, d.err
	}
	return model.EmailStats{Sent: len(newCounts)}, nil
}

var errStatus403 = errors.New("search api returned status 403")

type testEnv struct {
	db         *memDB
	locker     *countingLocker
	client     *mockClient
	dispatcher *mockDispatcher
	pipeline   *Pipeline
	logs       *bytes.Buffer
	now        time.Time
}

func newTestEnv() *testEnv {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	db := newMemDB()
	env := &testEnv{
		db:         db,
		locker:     &countingLocker{},
		client:     &mockClient{posts: map[string][]*model.ContentItem{}, replies: map[string][]*model.ContentItem{}, failSources: map[string]error{}},
		dispatcher: &mockDispatcher{},
		logs:       &buf,
		now:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	wmSvc := watermark.NewService(memWatermarkRepo{db}, memContentRepo{db}, 60, 0, logger)
	env.pipeline = NewPipeline(PipelineDeps{
		Locker:     env.locker,
		SubRepo:    memSubRepo{db},
		Watermarks: wmSvc,
		Client:     env.client,
		Store:      content.NewStore(memContentRepo{db}),
		Fanout:     fanout.NewMaterializer(memSubRepo{db}, memUserPostRepo{db}, memTagRepo{db}, memContentRepo{db}, logger),
		Dispatcher: env.dispatcher,
		Logger:     logger,
	})
	env.pipeline.now = func() time.Time { return env.now }
	return env
}

func post(nativeID, subreddit, title string, created time.Time) *model.ContentItem {
	return &model.ContentItem{
		NativeID:  nativeID,
		Kind:      model.ContentKindPost,
		Subreddit: subreddit,
		Title:     title,
		Author:    "gopher",
		Permalink: "https://www.reddit.com/r/" + subreddit + "/comments/" + nativeID + "/",
		CreatedAt: created,
	}
}

func comment(nativeID, parent, subreddit string) *model.ContentItem {
	p := parent
	body := "reply"
	return &model.ContentItem{
		NativeID:       nativeID,
		Kind:           model.ContentKindComment,
		Subreddit:      subreddit,
		ParentNativeID: &p,
		Body:           &body,
	}
}
