// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, forum, moderation, system
	Action   string // ユーザー向け対処方法

	// RetryAfterSeconds は連続投稿制限（FLOODING）時の残り秒数。その他のエラーでは0。
	RetryAfterSeconds int
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAccessDenied   = "ACCESS_DENIED"
	ErrCodeThreadClosed   = "THREAD_CLOSED"
	ErrCodeFlooding       = "FLOODING"
	ErrCodeForumNotFound  = "FORUM_NOT_FOUND"
	ErrCodeThreadNotFound = "THREAD_NOT_FOUND"
	ErrCodePostNotFound   = "POST_NOT_FOUND"
	ErrCodeUserNotFound   = "USER_NOT_FOUND"
	ErrCodeInvalidState   = "INVALID_STATE"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInvalidSlug    = "INVALID_SLUG"
	ErrCodeSlugInUse      = "SLUG_IN_USE"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeAccessBlocked  = "ACCESS_BLOCKED"
)

// HasCode はerrがAPIErrorであり、指定されたコードを持つかどうかを判定する。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// IsNotFound はerrがいずれかの未検出エラーかどうかを判定する。
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeForumNotFound) ||
		HasCode(err, ErrCodeThreadNotFound) ||
		HasCode(err, ErrCodePostNotFound) ||
		HasCode(err, ErrCodeUserNotFound)
}

// NewAccessDeniedError は非公開フォーラムなど権限のないリソースへのアクセスエラーを生成する。
func NewAccessDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccessDenied,
		Message:  "このリソースへのアクセス権限がありません。",
		Category: "auth",
		Action:   "権限を持つアカウントでログインしてください。",
	}
}

// NewThreadClosedError はクローズ・ロック済みスレッドまたはクローズ済みフォーラムへの投稿エラーを生成する。
func NewThreadClosedError() *APIError {
	return &APIError{
		Code:     ErrCodeThreadClosed,
		Message:  "このスレッドには投稿できません。",
		Category: "forum",
		Action:   "スレッドまたはフォーラムがクローズされています。",
	}
}

// NewFloodingError は連続投稿制限エラーを生成する。
// secondsRemaining は次に投稿できるまでの残り秒数。
func NewFloodingError(secondsRemaining int) *APIError {
	return &APIError{
		Code:              ErrCodeFlooding,
		Message:           fmt.Sprintf("連続して投稿することはできません。あと%d秒お待ちください。", secondsRemaining),
		Category:          "forum",
		Action:            "しばらく待ってから再度投稿してください。",
		RetryAfterSeconds: secondsRemaining,
	}
}

// NewForumNotFoundError はフォーラム未検出エラーを生成する。
func NewForumNotFoundError(ref string) *APIError {
	return &APIError{
		Code:     ErrCodeForumNotFound,
		Message:  fmt.Sprintf("指定されたフォーラムが見つかりません: %s", ref),
		Category: "forum",
		Action:   "URLを確認してください。",
	}
}

// NewThreadNotFoundError はスレッド未検出エラーを生成する。
func NewThreadNotFoundError(threadID string) *APIError {
	return &APIError{
		Code:     ErrCodeThreadNotFound,
		Message:  fmt.Sprintf("指定されたスレッドが見つかりません: %s", threadID),
		Category: "forum",
		Action:   "スレッドIDを確認してください。",
	}
}

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %s", postID),
		Category: "forum",
		Action:   "投稿IDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidStateError は操作が現在の状態と矛盾する場合のエラーを生成する。
func NewInvalidStateError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  fmt.Sprintf("この操作は実行できません: %s", reason),
		Category: "forum",
		Action:   "対象の状態を確認してください。",
	}
}

// NewConflictError は楽観的排他制御の競合エラーを生成する。
func NewConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  "他の更新と競合しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidSlugError はスラッグの形式が不正な場合のエラーを生成する。
func NewInvalidSlugError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSlug,
		Message:  fmt.Sprintf("無効なスラッグです: %q", slug),
		Category: "validation",
		Action:   "スラッグには英小文字、数字、ハイフン、アンダースコアのみ使用できます。",
	}
}

// NewSlugInUseError は兄弟フォーラム間でスラッグが重複した場合のエラーを生成する。
func NewSlugInUseError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodeSlugInUse,
		Message:  fmt.Sprintf("スラッグ %q は同じ親フォーラム内で既に使用されています。", slug),
		Category: "validation",
		Action:   "別のスラッグを指定してください。",
	}
}

// NewUnauthorizedError は認証が必要な操作を未認証で実行した場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewAccessBlockedError はモデレーションによりアクセスが禁止されている場合のエラーを生成する。
func NewAccessBlockedError(publicReason string) *APIError {
	msg := "モデレーターによりアクセスが制限されています。"
	if publicReason != "" {
		msg = fmt.Sprintf("モデレーターによりアクセスが制限されています: %s", publicReason)
	}
	return &APIError{
		Code:     ErrCodeAccessBlocked,
		Message:  msg,
		Category: "moderation",
		Action:   "制限の解除については運営にお問い合わせください。",
	}
}
