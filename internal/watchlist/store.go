// Package watchlist persists the media items a user has bookmarked from the
// catalog for later download. Items are keyed by (media_type, tmdb_id) so the
// same movie cannot be bookmarked twice.
package watchlist

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/mescon/Gatherr/internal/domain"
	"github.com/mescon/Gatherr/internal/eventbus"
	"github.com/mescon/Gatherr/internal/logger"
)

// Item is one watchlist entry. The catalog fields are denormalized at add
// time so the list renders without a round trip to the catalog service.
type Item struct {
	ID           int64     `json:"id"`
	MediaType    string    `json:"mediaType"` // "movie" or "tv"
	TMDBID       int64     `json:"tmdbId"`
	Title        string    `json:"title"`
	PosterPath   string    `json:"posterPath"`
	BackdropPath string    `json:"backdropPath"`
	Overview     string    `json:"overview"`
	ReleaseDate  string    `json:"releaseDate"`
	VoteAverage  float64   `json:"voteAverage"`
	AddedAt      time.Time `json:"addedAt"`
}

// Store provides watchlist CRUD backed by SQLite. bus may be nil.
type Store struct {
	db  *sql.DB
	bus eventbus.Publisher
}

func NewStore(db *sql.DB, bus eventbus.Publisher) *Store {
	return &Store{db: db, bus: bus}
}

// Add inserts an item and publishes WatchlistAdded. Adding an item that is
// already on the list is not an error; the existing entry is left untouched.
func (s *Store) Add(item Item) (Item, error) {
	if item.MediaType != "movie" && item.MediaType != "tv" {
		return Item{}, fmt.Errorf("invalid media type %q", item.MediaType)
	}
	if item.TMDBID <= 0 {
		return Item{}, fmt.Errorf("invalid tmdb id %d", item.TMDBID)
	}
	if item.Title == "" {
		return Item{}, fmt.Errorf("title is required")
	}

	result, err := s.db.Exec(`
		INSERT INTO watchlist (media_type, tmdb_id, title, poster_path, backdrop_path, overview, release_date, vote_average)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (media_type, tmdb_id) DO NOTHING`,
		item.MediaType, item.TMDBID, item.Title, item.PosterPath, item.BackdropPath,
		item.Overview, item.ReleaseDate, item.VoteAverage)
	if err != nil {
		return Item{}, fmt.Errorf("failed to add watchlist item: %w", err)
	}

	affected, _ := result.RowsAffected()
	stored, err := s.get(item.MediaType, item.TMDBID)
	if err != nil {
		return Item{}, err
	}

	if affected > 0 {
		s.publish(domain.WatchlistAdded, stored)
	}
	return stored, nil
}

// Remove deletes an item by (mediaType, tmdbID) and publishes
// WatchlistRemoved. Removing an absent item returns sql.ErrNoRows.
func (s *Store) Remove(mediaType string, tmdbID int64) error {
	item, err := s.get(mediaType, tmdbID)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec("DELETE FROM watchlist WHERE media_type = ? AND tmdb_id = ?", mediaType, tmdbID); err != nil {
		return fmt.Errorf("failed to remove watchlist item: %w", err)
	}

	s.publish(domain.WatchlistRemoved, item)
	return nil
}

// List returns items newest-first by default. mediaType filters to "movie" or
// "tv"; empty returns everything. orderBy must be a pre-validated ORDER BY
// clause (see api.SafeOrderByClause); empty falls back to added_at DESC.
func (s *Store) List(mediaType, orderBy string, limit, offset int) ([]Item, error) {
	if limit <= 0 {
		limit = 50
	}
	if orderBy == "" {
		orderBy = "ORDER BY added_at DESC"
	}

	query := "SELECT id, media_type, tmdb_id, title, poster_path, backdrop_path, overview, release_date, vote_average, added_at FROM watchlist"
	args := []interface{}{}
	if mediaType != "" {
		query += " WHERE media_type = ?"
		args = append(args, mediaType)
	}
	query += " " + orderBy + ", id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.MediaType, &item.TMDBID, &item.Title,
			&item.PosterPath, &item.BackdropPath, &item.Overview,
			&item.ReleaseDate, &item.VoteAverage, &item.AddedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Count returns the number of items, optionally filtered by media type.
func (s *Store) Count(mediaType string) (int, error) {
	var count int
	var err error
	if mediaType == "" {
		err = s.db.QueryRow("SELECT COUNT(*) FROM watchlist").Scan(&count)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM watchlist WHERE media_type = ?", mediaType).Scan(&count)
	}
	return count, err
}

// Contains reports whether an item is on the list.
func (s *Store) Contains(mediaType string, tmdbID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM watchlist WHERE media_type = ? AND tmdb_id = ?)",
		mediaType, tmdbID).Scan(&exists)
	return exists, err
}

func (s *Store) get(mediaType string, tmdbID int64) (Item, error) {
	var item Item
	err := s.db.QueryRow(`
		SELECT id, media_type, tmdb_id, title, poster_path, backdrop_path, overview, release_date, vote_average, added_at
		FROM watchlist WHERE media_type = ? AND tmdb_id = ?`,
		mediaType, tmdbID).Scan(&item.ID, &item.MediaType, &item.TMDBID, &item.Title,
		&item.PosterPath, &item.BackdropPath, &item.Overview,
		&item.ReleaseDate, &item.VoteAverage, &item.AddedAt)
	return item, err
}

func (s *Store) publish(eventType domain.EventType, item Item) {
	if s.bus == nil {
		return
	}
	err := s.bus.Publish(domain.Event{
		AggregateType: "watchlist",
		AggregateID:   item.MediaType + ":" + strconv.FormatInt(item.TMDBID, 10),
		EventType:     eventType,
		EventData: map[string]interface{}{
			"media_type": item.MediaType,
			"tmdb_id":    item.TMDBID,
			"title":      item.Title,
		},
	})
	if err != nil {
		logger.Errorf("Watchlist: failed to publish %s event: %v", eventType, err)
	}
}
