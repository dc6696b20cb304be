package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"hash/fnv"
	"sync"
)

// AdvisoryLockKey は名前からPostgreSQLアドバイザリロック用の64bitキーを導出する。
func AdvisoryLockKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// AdvisoryLocker はPostgreSQLのセッションレベルアドバイザリロックによる
// プロセス間排他を提供する。
// セッションレベルのロックは取得した接続に紐付くため、
// 取得から解放まで同じ接続を保持する。
type AdvisoryLocker struct {
	db  *sql.DB
	key int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewAdvisoryLocker はnameから導出したキーでAdvisoryLockerを生成する。
func NewAdvisoryLocker(db *sql.DB, name string) *AdvisoryLocker {
	return &AdvisoryLocker{db: db, key: AdvisoryLockKey(name)}
}

// TryLock は待機せずにロック取得を試みる。
// 他のセッションが保持している場合はfalseを返す（エラーではない）。
func (l *AdvisoryLocker) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		// 同一プロセス内での再入は許可しない
		return false, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("ロック用接続の取得に失敗しました: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("アドバイザリロックの取得に失敗しました: %w", err)
	}

	if !acquired {
		conn.Close()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Unlock は保持しているロックを解放し、接続をプールに返却する。
// ロックを保持していない場合は何もしない。
func (l *AdvisoryLocker) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil

	var released bool
	err := conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key).Scan(&released)
	if err != nil {
		// 解放に失敗した接続はプールに戻さず破棄し、セッション終了でロックを解放させる
		conn.Raw(func(any) error { return driver.ErrBadConn })
		conn.Close()
		return fmt.Errorf("アドバイザリロックの解放に失敗しました: %w", err)
	}

	if err := conn.Close(); err != nil {
		return fmt.Errorf("ロック用接続の返却に失敗しました: %w", err)
	}
	if !released {
		return fmt.Errorf("アドバイザリロックを保持していませんでした: key=%d", l.key)
	}
	return nil
}
