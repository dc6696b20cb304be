package database

import (
	"context"
	"database/sql"
	"testing"
)

func TestAdvisoryLockKey_Deterministic(t *testing.T) {
	a := AdvisoryLockKey("subwatch:fetch-posts")
	b := AdvisoryLockKey("subwatch:fetch-posts")
	if a != b {
		t.Errorf("同じ名前から異なるキーが導出されました: %d != %d", a, b)
	}
	if c := AdvisoryLockKey("subwatch:other"); c == a {
		t.Errorf("異なる名前から同じキーが導出されました: %d", c)
	}
}

func TestAdvisoryLocker_UnlockWithoutLock_IsNoop(t *testing.T) {
	l := NewAdvisoryLocker(nil, "subwatch:test")
	if err := l.Unlock(context.Background()); err != nil {
		t.Errorf("ロック未保持のUnlockでエラー: %v", err)
	}
}

func TestAdvisoryLocker_MutualExclusion(t *testing.T) {
	db, err := sql.Open("postgres", testDatabaseURL(t))
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}

	ctx := context.Background()
	first := NewAdvisoryLocker(db, "subwatch:lock-test")
	second := NewAdvisoryLocker(db, "subwatch:lock-test")

	ok, err := first.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("1つ目のロック取得に失敗: ok=%v err=%v", ok, err)
	}

	t.Run("保持中は別のロッカーが取得できない", func(t *testing.T) {
		ok, err := second.TryLock(ctx)
		if err != nil {
			t.Fatalf("TryLockでエラー: %v", err)
		}
		if ok {
			t.Error("保持中のロックを別のロッカーが取得できてしまいました")
			second.Unlock(ctx)
		}
	})

	t.Run("同じロッカーでの再入は拒否される", func(t *testing.T) {
		ok, err := first.TryLock(ctx)
		if err != nil {
			t.Fatalf("TryLockでエラー: %v", err)
		}
		if ok {
			t.Error("再入ロックが許可されてしまいました")
		}
	})

	if err := first.Unlock(ctx); err != nil {
		t.Fatalf("ロック解放に失敗: %v", err)
	}

	t.Run("解放後は別のロッカーが取得できる", func(t *testing.T) {
		ok, err := second.TryLock(ctx)
		if err != nil || !ok {
			t.Fatalf("解放後のロック取得に失敗: ok=%v err=%v", ok, err)
		}
		if err := second.Unlock(ctx); err != nil {
			t.Errorf("ロック解放に失敗: %v", err)
		}
	})
}
