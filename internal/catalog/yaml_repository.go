package catalog

import (
	"context"
	"strings"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/config"
)

// YAMLRepository serves titles defined in the configuration file.
type YAMLRepository struct {
	contents map[string]Content
}

// NewYAMLRepository converts configured titles to Content.
func NewYAMLRepository(entries map[string]config.CatalogContent) *YAMLRepository {
	contents := make(map[string]Content, len(entries))
	for id, e := range entries {
		contents[id] = Content{
			ID:            id,
			Title:         e.Title,
			Type:          ContentType(strings.ToLower(e.ContentType)),
			Price:         copyPtr(e.Price),
			ViewPrice:     copyPtr(e.ViewPrice),
			DownloadPrice: copyPtr(e.DownloadPrice),
			Currency:      e.Currency,
			TotalEpisodes: e.TotalEpisodes,
			TrailerID:     e.TrailerID,
		}
	}
	return &YAMLRepository{contents: contents}
}

// GetContent implements Repository.
func (r *YAMLRepository) GetContent(_ context.Context, id string) (Content, error) {
	c, ok := r.contents[id]
	if !ok {
		return Content{}, ErrContentNotFound
	}
	return c.Clone(), nil
}

func copyPtr(v *int64) *int64 {
	if v == nil {
		return nil
	}
	return int64Ptr(*v)
}
