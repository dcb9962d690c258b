package items

import (
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"stashcast/media"
)

var log = logrus.NewEntry(logrus.StandardLogger())

func Init(logger *logrus.Logger) error {
	log = logger.WithFields(logrus.Fields{
		"component": "items",
	})
	return nil
}

const (
	ContentBase   = "content"
	ThumbnailBase = "thumbnail"
	SubtitleFile  = "subtitles.vtt"
	LogFile       = "download.log"
	ErrorsDir     = "errors"
	tmpPrefix     = "tmp-"
)

type Item struct {
	ID          string          `gorm:"primaryKey" json:"id"`
	SourceRef   string          `gorm:"index" json:"source_ref"`
	WebpageURL  string          `json:"webpage_url,omitempty"`
	Slug        string          `gorm:"index" json:"slug"`
	Requested   media.Requested `json:"requested"`
	Kind        media.Kind      `gorm:"index" json:"kind"`
	Status      Status          `gorm:"index" json:"status"`
	Title       string          `json:"title"`
	Author      string          `json:"author,omitempty"`
	Description string          `json:"description,omitempty"`
	Duration    float64         `json:"duration,omitempty"`
	Extractor   string          `json:"extractor,omitempty"`
	ExternalID  string          `json:"external_id,omitempty"`

	// Alternate is the URL actually fetched for a DRM-protected source.
	Alternate     string `json:"alternate,omitempty"`
	AllowMultiple bool   `json:"allow_multiple,omitempty"`

	// relative to the item's directory
	ContentPath   string `json:"content_path,omitempty"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
	SubtitlePath  string `json:"subtitle_path,omitempty"`
	LogPath       string `json:"log_path,omitempty"`

	// Summary holds the most central sentences of the subtitle track.
	Summary string `json:"summary,omitempty"`

	Size       int64  `json:"size,omitempty"`
	MIMEType   string `json:"mime_type,omitempty"`
	Error      string `json:"error,omitempty"`
	PlaylistID uint   `gorm:"index" json:"playlist_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// WorkDir is the scratch directory of a run.
func (i *Item) WorkDir(root string) string {
	return filepath.Join(root, tmpPrefix+i.ID)
}

// ErrorDir keeps the log of a failed run.
func (i *Item) ErrorDir(root string) string {
	return filepath.Join(root, ErrorsDir, i.ID)
}

// Dir is where the item's relative paths resolve for its current status.
func (i *Item) Dir(root string) string {
	switch i.Status {
	case StatusReady:
		return filepath.Join(root, i.Slug)
	case StatusError:
		return i.ErrorDir(root)
	default:
		return i.WorkDir(root)
	}
}

// Path resolves a stored relative path against the item's directory.
func (i *Item) Path(root, rel string) string {
	if rel == "" {
		return ""
	}
	return filepath.Join(i.Dir(root), rel)
}

// IsWorkDir reports whether a directory name under the media root is a run's
// scratch directory, and for which item.
func IsWorkDir(name string) (string, bool) {
	if len(name) > len(tmpPrefix) && name[:len(tmpPrefix)] == tmpPrefix {
		return name[len(tmpPrefix):], true
	}
	return "", false
}
