package model

import "github.com/google/uuid"

// NewID は時刻順に並ぶUUIDv7の文字列を生成する。
// 同一プロセス内では生成順に単調増加する。
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
