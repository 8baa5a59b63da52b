// Package handler はrewear APIのHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/rewear/internal/client"
	"github.com/hitoshi/rewear/internal/middleware"
	"github.com/hitoshi/rewear/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限（画像参照を含むため余裕を持たせる）。
const maxRequestBodySize = 1 << 20

func errInvalidRequest() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: model.CategoryValidation,
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをvに読み込む。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, errInvalidRequest())
		return false
	}
	return true
}

// handleServiceError はSession Provider・Item Repositoryのエラーを統一フォーマットで書き込む。
// APIErrorでないエラーは内部エラーとして扱い、詳細はログのみに残す。
func handleServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status := middleware.StatusForAPIError(apiErr)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("path", r.URL.Path),
				slog.String("code", apiErr.Code),
				slog.String("error", err.Error()),
			)
		}
		middleware.WriteErrorResponse(w, status, apiErr)
		return
	}

	logger.Error("unexpected error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// instance はリクエストのクライアントInstanceを取得する。
// クライアントミドルウェアを通っていない場合は500を書き込みnilを返す。
func instance(w http.ResponseWriter, r *http.Request, logger *slog.Logger) *client.Instance {
	inst, err := middleware.InstanceFromContext(r.Context())
	if err != nil {
		logger.Error("client instance missing", slog.String("path", r.URL.Path))
		middleware.WriteInternalServerError(w)
		return nil
	}
	return inst
}
