package playlists

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"stashcast/items"
	"stashcast/media"
)

type Status string

// Playlist groups the items stashed from one multi-item source.
type Playlist struct {
	gorm.Model
	URL       string `gorm:"index"`
	Title     string
	Requested media.Requested
	Count     int
	Status    Status
}

const (
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

var ErrNotFound = errors.New("playlist not found")

func Create(db *gorm.DB, url, title string, requested media.Requested, count int) (*Playlist, error) {
	p := &Playlist{URL: url, Title: title, Requested: requested, Count: count, Status: StatusDownloading}
	if err := db.Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

func Get(db *gorm.DB, id uint) (*Playlist, error) {
	var p Playlist
	err := db.First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return &p, err
}

func SetStatus(db *gorm.DB, id uint, status Status) error {
	return db.Model(&Playlist{}).Where("id = ?", id).Update("status", status).Error
}

// Summarize derives a playlist status from its members: completed once all
// are READY, failed once none is running and at least one failed.
func Summarize(statuses []items.Status) Status {
	failed := false
	for _, s := range statuses {
		switch s {
		case items.StatusReady:
		case items.StatusError:
			failed = true
		default:
			return StatusDownloading
		}
	}
	if failed {
		return StatusFailed
	}
	return StatusCompleted
}

// Refresh recomputes and stores the status of playlist id.
func Refresh(db *gorm.DB, store *items.Store, id uint) (*Playlist, []items.Item, error) {
	p, err := Get(db, id)
	if err != nil {
		return nil, nil, err
	}
	members, err := store.ListByPlaylist(id)
	if err != nil {
		return nil, nil, err
	}
	statuses := make([]items.Status, len(members))
	for i, m := range members {
		statuses[i] = m.Status
	}
	if status := Summarize(statuses); status != p.Status {
		if err := SetStatus(db, id, status); err != nil {
			return nil, nil, err
		}
		p.Status = status
	}
	return p, members, nil
}
