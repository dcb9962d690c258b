package items

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"stashcast/media"
)

var (
	ErrNotFound          = errors.New("item not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrStaleTransition means the item was no longer in the expected status.
	ErrStaleTransition = errors.New("item status changed concurrently")
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Get(id string) (*Item, error) {
	var item Item
	err := s.db.Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Create stores a new item in PREFETCHING with a fresh id.
func (s *Store) Create(item *Item) error {
	if item.ID == "" {
		item.ID = uuid.Must(uuid.NewV7()).String()
	}
	item.Status = StatusPrefetching
	if item.Requested == "" {
		item.Requested = media.Auto
	}
	return s.db.Create(item).Error
}

// Update writes fields without touching status; use Transition for that.
func (s *Store) Update(id string, fields map[string]interface{}) error {
	if _, ok := fields["status"]; ok {
		return fmt.Errorf("%w: status must change through Transition", ErrIllegalTransition)
	}
	res := s.db.Model(&Item{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Transition moves id from one status to the next, writing fields in the same
// statement. It fails if the step is illegal or if the stored status is no
// longer from.
func (s *Store) Transition(id string, from, to Status, fields map[string]interface{}) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := s.db.Model(&Item{}).Where("id = ? AND status = ?", id, from).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s expected %s", ErrStaleTransition, id, from)
	}
	log.Debugln("item", id, "status", from, "->", to)
	return nil
}

// Reset re-enters PREFETCHING for a retry, clearing the previous outcome.
// The slug and kind stay so a retry overwrites the same directory.
func (s *Store) Reset(id string) error {
	res := s.db.Model(&Item{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       StatusPrefetching,
		"kind":         "",
		"error":        "",
		"completed_at": nil,
		"log_path":     "",
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *Store) Delete(id string) error {
	return s.db.Where("id = ?", id).Delete(&Item{}).Error
}

// Touch bumps updated_at, marking the item as picked up by a worker.
func (s *Store) Touch(id string) error {
	return s.db.Model(&Item{}).Where("id = ?", id).Update("updated_at", time.Now()).Error
}

// FindForStash looks up the item a new stash request should reuse: same
// source and same explicit kind, or same source requested as auto.
func (s *Store) FindForStash(sourceRef string, requested media.Requested) (*Item, error) {
	q := s.db.Where("source_ref = ?", sourceRef)
	switch requested {
	case media.RequestedAudio, media.RequestedVideo:
		q = q.Where("(kind = ? OR (kind = '' AND requested = ?))", string(requested), requested)
	default:
		q = q.Where("requested = ?", media.Auto)
	}
	var item Item
	err := q.Order("created_at desc").First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// FindBySourceKind returns another item for the same source and kind that
// already owns a slug.
func (s *Store) FindBySourceKind(sourceRef string, kind media.Kind, excludeID string) (*Item, error) {
	var item Item
	err := s.db.Where("source_ref = ? AND kind = ? AND id <> ? AND slug <> ''", sourceRef, kind, excludeID).
		Order("created_at desc").First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// SlugTaken reports whether an item for another source or kind holds slug.
func (s *Store) SlugTaken(slug, sourceRef string, kind media.Kind) (bool, error) {
	var n int64
	err := s.db.Model(&Item{}).
		Where("slug = ? AND NOT (source_ref = ? AND kind = ?)", slug, sourceRef, kind).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) CountByStatus(status Status) (int64, error) {
	var n int64
	err := s.db.Model(&Item{}).Where("status = ?", status).Count(&n).Error
	return n, err
}

func (s *Store) ListByStatus(statuses ...Status) ([]Item, error) {
	var out []Item
	err := s.db.Where("status IN ?", statuses).Order("created_at asc").Find(&out).Error
	return out, err
}

// List returns the newest items first; limit <= 0 means no limit.
func (s *Store) List(limit int) ([]Item, error) {
	var out []Item
	q := s.db.Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (s *Store) ListByPlaylist(playlistID uint) ([]Item, error) {
	var out []Item
	err := s.db.Where("playlist_id = ?", playlistID).Order("created_at asc").Find(&out).Error
	return out, err
}
