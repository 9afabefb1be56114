// Package content reads the media bundle and app catalogs served to devices.
package content

import (
	"context"
	"database/sql"
)

// MediaItem is one entry of a bundle, in playback order.
type MediaItem struct {
	ContentID       string `json:"content_id"`
	Title           string `json:"title"`
	MediaType       string `json:"media_type"`
	URL             string `json:"url"`
	Position        int    `json:"position"`
	DurationSeconds *int   `json:"duration_seconds"`
}

// App is an entry of the launcher allow-list.
type App struct {
	AppID       string  `json:"app_id"`
	Name        string  `json:"name"`
	PackageName string  `json:"package_name"`
	IconURL     *string `json:"icon_url"`
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository reads catalog tables. Mutation belongs to the admin console.
type Repository struct {
	reader *sql.DB
}

func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader()}
}

// BundleMedia returns the ordered media of bundleID; empty for "".
func (r *Repository) BundleMedia(ctx context.Context, bundleID string) ([]MediaItem, error) {
	items := []MediaItem{}
	if bundleID == "" {
		return items, nil
	}

	rows, err := r.reader.QueryContext(ctx, `
		SELECT content_id, title, media_type, url, position, duration_seconds
		FROM media_contents
		WHERE bundle_id = ?
		ORDER BY position, content_id
	`, bundleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item     MediaItem
			duration sql.NullInt64
		)
		if err := rows.Scan(&item.ContentID, &item.Title, &item.MediaType, &item.URL, &item.Position, &duration); err != nil {
			return nil, err
		}
		if duration.Valid {
			seconds := int(duration.Int64)
			item.DurationSeconds = &seconds
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// AllowedApps returns the allow-listed apps in launcher order.
func (r *Repository) AllowedApps(ctx context.Context) ([]App, error) {
	rows, err := r.reader.QueryContext(ctx, `
		SELECT app_id, name, package_name, icon_url
		FROM apps
		WHERE is_allowed = 1
		ORDER BY position, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apps := []App{}
	for rows.Next() {
		var (
			app  App
			icon sql.NullString
		)
		if err := rows.Scan(&app.AppID, &app.Name, &app.PackageName, &icon); err != nil {
			return nil, err
		}
		if icon.Valid {
			app.IconURL = &icon.String
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}
