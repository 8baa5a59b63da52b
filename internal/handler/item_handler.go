package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/rewear/internal/closet"
	"github.com/hitoshi/rewear/internal/model"
)

// ItemHandler はItem RepositoryをHTTPで公開するハンドラー。
type ItemHandler struct {
	logger *slog.Logger
}

// NewItemHandler はItemHandlerを生成する。
func NewItemHandler(logger *slog.Logger) *ItemHandler {
	return &ItemHandler{logger: logger}
}

// itemListResponse はアイテム一覧のAPIレスポンス。
// errorは直近の取得失敗のメッセージで、失敗していなければ空文字列。
type itemListResponse struct {
	Items   []model.ClothingItem `json:"items"`
	Loading bool                 `json:"loading"`
	State   closet.State         `json:"state"`
	Error   string               `json:"error"`
}

// catalogResponse は出品フォームの選択肢。
type catalogResponse struct {
	Categories []string           `json:"categories"`
	Sizes      []string           `json:"sizes"`
	Conditions []string           `json:"conditions"`
	Statuses   []model.ItemStatus `json:"statuses"`
	MaxImages  int                `json:"max_images"`
}

// ListItems はサインイン中のユーザーのアイテムを読み直して返す。
// GET /api/items?q=term
// qを指定した場合はタイトルまたはカテゴリで絞り込む。
func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	inst := instance(w, r, h.logger)
	if inst == nil {
		return
	}
	repo := inst.Repository

	items := repo.FetchItems(r.Context())
	if q := r.URL.Query().Get("q"); q != "" {
		items = repo.Search(q)
	}

	writeJSON(w, http.StatusOK, itemListResponse{
		Items:   items,
		Loading: repo.Loading(),
		State:   repo.State(),
		Error:   repo.ErrorMessage(),
	})
}

// CreateItem はアイテムを登録する。
// POST /api/items
func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	inst := instance(w, r, h.logger)
	if inst == nil {
		return
	}
	var req model.NewItem
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := inst.Repository.AddItem(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// UpdateItem はアイテムを部分更新する。
// PATCH /api/items/{id}
// 他のユーザーのアイテムや存在しないIDでも204を返す。
func (h *ItemHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	inst := instance(w, r, h.logger)
	if inst == nil {
		return
	}
	var req model.ItemUpdate
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := inst.Repository.UpdateItem(r.Context(), chi.URLParam(r, "id"), req); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteItem はアイテムを削除する。
// DELETE /api/items/{id}
func (h *ItemHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	inst := instance(w, r, h.logger)
	if inst == nil {
		return
	}

	if err := inst.Repository.DeleteItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Catalog は出品フォームの選択肢を返す。
// GET /api/catalog
func (h *ItemHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalogResponse{
		Categories: model.ItemCategories,
		Sizes:      model.ItemSizes,
		Conditions: model.ItemConditions,
		Statuses:   []model.ItemStatus{model.ItemStatusAvailable, model.ItemStatusPending, model.ItemStatusSold},
		MaxImages:  model.MaxItemImages,
	})
}
