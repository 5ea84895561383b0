// Package handler はフォーラムのHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/forumd/internal/middleware"
	"github.com/hitoshi/forumd/internal/model"
)

// validate はリクエストボディの検証に使う共有インスタンス。
var validate = validator.New(validator.WithRequiredStructEnabled())

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("レスポンスの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

// decodeRequest はJSONボディをdstに読み込み、構造体タグで検証する。
// 失敗した場合はINVALID_REQUESTを書き込んでfalseを返す。
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError(describeValidation(err)))
		return false
	}
	return true
}

// describeValidation は検証エラーを項目名の一覧に変換する。
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return "不正な項目: " + strings.Join(fields, ", ")
}

// pageParam はクエリパラメータpageを1始まりのページ番号として読む。
// 省略時は1。
func pageParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("page")
	if raw == "" {
		return 1, true
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("pageは1以上の整数で指定してください"))
		return 0, false
	}
	return page, true
}

// requireCapability は指定された権限を持たないユーザーに403を返すミドルウェア。
// 匿名リクエストには401を返す。
func requireCapability(capability string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := middleware.UserFromContext(r.Context())
			if user == nil {
				middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if !user.Has(capability) {
				middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewAccessDeniedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP は投稿元IPとして保存する値を返す。取得できない場合はnil。
func clientIP(r *http.Request) *string {
	ip := middleware.ClientIP(r)
	if ip == "" {
		return nil
	}
	return &ip
}
