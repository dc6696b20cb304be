package repository

import (
	"database/sql"
	"time"
)

// nullStringPtr は*stringをsql.NullStringに変換する。空文字列もNULLとして扱う。
func nullStringPtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// stringPtr はsql.NullStringを*stringに変換する。
func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// timePtr はsql.NullTimeを*time.Timeに変換する。
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
