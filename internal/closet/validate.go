package closet

import (
	"math"
	"strings"

	"github.com/hitoshi/rewear/internal/model"
	"github.com/hitoshi/rewear/internal/security"
)

// canonical はカタログ内の表記に揃えた値を返す。含まれない場合はfalse。
func canonical(catalog []string, value string) (string, bool) {
	for _, c := range catalog {
		if strings.EqualFold(c, strings.TrimSpace(value)) {
			return c, true
		}
	}
	return "", false
}

// normalizeNewItem は出品入力を検証し、テキストのサニタイズとカタログ表記の正規化を行う。
func normalizeNewItem(s security.TextSanitizerService, in model.NewItem) (model.NewItem, error) {
	out := in

	out.Title = s.SanitizeText(in.Title)
	if out.Title == "" {
		return model.NewItem{}, model.NewInvalidItemError("title is required")
	}
	out.Description = s.SanitizeText(in.Description)
	if out.Description == "" {
		return model.NewItem{}, model.NewInvalidItemError("description is required")
	}

	var err error
	if out.Category, err = catalogValue(model.ItemCategories, "category", in.Category); err != nil {
		return model.NewItem{}, err
	}
	if out.Size, err = catalogValue(model.ItemSizes, "size", in.Size); err != nil {
		return model.NewItem{}, err
	}
	if out.Condition, err = catalogValue(model.ItemConditions, "condition", in.Condition); err != nil {
		return model.NewItem{}, err
	}

	if err := validatePrice(in.Price); err != nil {
		return model.NewItem{}, err
	}
	if out.Images, err = normalizeImages(s, in.Images); err != nil {
		return model.NewItem{}, err
	}
	if in.Status != "" && !in.Status.Valid() {
		return model.NewItem{}, model.NewInvalidItemError("status must be one of available, sold, pending")
	}

	return out, nil
}

// normalizeUpdate は部分更新の入力を検証する。指定されたフィールドのみ対象にする。
func normalizeUpdate(s security.TextSanitizerService, upd model.ItemUpdate) (model.ItemUpdate, error) {
	if upd.IsEmpty() {
		return model.ItemUpdate{}, model.NewEmptyUpdateError()
	}
	out := upd

	if upd.Title != nil {
		v := s.SanitizeText(*upd.Title)
		if v == "" {
			return model.ItemUpdate{}, model.NewInvalidItemError("title must not be empty")
		}
		out.Title = &v
	}
	if upd.Description != nil {
		v := s.SanitizeText(*upd.Description)
		if v == "" {
			return model.ItemUpdate{}, model.NewInvalidItemError("description must not be empty")
		}
		out.Description = &v
	}
	if upd.Category != nil {
		v, err := catalogValue(model.ItemCategories, "category", *upd.Category)
		if err != nil {
			return model.ItemUpdate{}, err
		}
		out.Category = &v
	}
	if upd.Size != nil {
		v, err := catalogValue(model.ItemSizes, "size", *upd.Size)
		if err != nil {
			return model.ItemUpdate{}, err
		}
		out.Size = &v
	}
	if upd.Condition != nil {
		v, err := catalogValue(model.ItemConditions, "condition", *upd.Condition)
		if err != nil {
			return model.ItemUpdate{}, err
		}
		out.Condition = &v
	}
	if err := validatePrice(upd.Price); err != nil {
		return model.ItemUpdate{}, err
	}
	if upd.Images != nil {
		v, err := normalizeImages(s, *upd.Images)
		if err != nil {
			return model.ItemUpdate{}, err
		}
		out.Images = &v
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return model.ItemUpdate{}, model.NewInvalidItemError("status must be one of available, sold, pending")
	}

	return out, nil
}

func catalogValue(catalog []string, field, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", model.NewInvalidItemError(field + " is required")
	}
	v, ok := canonical(catalog, value)
	if !ok {
		return "", model.NewInvalidItemError("unknown " + field + " " + value)
	}
	return v, nil
}

func validatePrice(p *float64) error {
	if p == nil {
		return nil
	}
	if *p < 0 || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return model.NewInvalidItemError("price must be a non-negative number")
	}
	return nil
}

// normalizeImages は画像参照を検証する。nilは空配列として扱う。
func normalizeImages(s security.TextSanitizerService, images []string) ([]string, error) {
	if len(images) > model.MaxItemImages {
		return nil, model.NewInvalidItemError("too many images")
	}
	out := make([]string, 0, len(images))
	for _, ref := range images {
		v, ok := s.SanitizeImageRef(ref)
		if !ok {
			return nil, model.NewInvalidItemError("invalid image reference")
		}
		out = append(out, v)
	}
	return out, nil
}
