package ingest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/subwatch/internal/model"
)

// mockRunner はRunnerのテスト用モック。
type mockRunner struct {
	runFunc func(ctx context.Context) (*model.RunResult, error)
	calls   atomic.Int32
}

func (m *mockRunner) Run(ctx context.Context) (*model.RunResult, error) {
	m.calls.Add(1)
	if m.runFunc != nil {
		return m.runFunc(ctx)
	}
	return &model.RunResult{Status: model.RunStatusOK, Fetched: []string{}}, nil
}

func TestScheduler_RunOnce_AppliesTimeout(t *testing.T) {
	var buf bytes.Buffer
	var hadDeadline bool
	runner := &mockRunner{runFunc: func(ctx context.Context) (*model.RunResult, error) {
		_, hadDeadline = ctx.Deadline()
		return &model.RunResult{Status: model.RunStatusOK}, nil
	}}

	s := NewScheduler(runner, newTestLogger(&buf), time.Minute)
	if result := s.RunOnce(context.Background()); result == nil {
		t.Fatal("結果を返すべき")
	}
	if !hadDeadline {
		t.Error("実行タイムアウトが設定されていない")
	}
}

func TestScheduler_RunOnce_LogsError(t *testing.T) {
	var buf bytes.Buffer
	runner := &mockRunner{runFunc: func(context.Context) (*model.RunResult, error) {
		return nil, errors.New("db down")
	}}

	s := NewScheduler(runner, newTestLogger(&buf), 0)
	if result := s.RunOnce(context.Background()); result != nil {
		t.Errorf("エラー時は nil を返すべき: %+v", result)
	}
	if !strings.Contains(buf.String(), "db down") {
		t.Error("エラーがログに記録されていない")
	}
}

func TestScheduler_RunOnce_LogsSkip(t *testing.T) {
	var buf bytes.Buffer
	runner := &mockRunner{runFunc: func(context.Context) (*model.RunResult, error) {
		return model.NewSkippedRunResult(), nil
	}}

	s := NewScheduler(runner, newTestLogger(&buf), 0)
	s.RunOnce(context.Background())
	if !strings.Contains(buf.String(), "already_running") {
		t.Error("スキップ理由がログに記録されていない")
	}
}

func TestScheduler_Start_RunsImmediatelyAndStops(t *testing.T) {
	var buf bytes.Buffer
	runner := &mockRunner{}
	s := NewScheduler(runner, newTestLogger(&buf), 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, time.Hour)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for runner.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("起動直後に実行されていない")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("コンテキストのキャンセルで停止していない")
	}
	if !strings.Contains(buf.String(), "停止") {
		t.Error("停止がログに記録されていない")
	}
}

func TestScheduler_Start_RunsOnTick(t *testing.T) {
	var buf bytes.Buffer
	runner := &mockRunner{}
	s := NewScheduler(runner, newTestLogger(&buf), 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx, 10*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for runner.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("ティッカーで実行されていない: calls = %d", runner.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
