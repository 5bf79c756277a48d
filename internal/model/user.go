// Package model はドメインモデルを定義する。
package model

import "time"

// User はアカウントを表す。
// PasswordHashはハッシュ済みの値のみを保持し、生のパスワードは保持しない。
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
