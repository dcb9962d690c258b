package handlers

import (
	"context"
	"errors"

	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"stashcast/pipeline"
	"stashcast/progress"
)

var log = logrus.NewEntry(logrus.StandardLogger())
var store *sessions.CookieStore
var env Env

// VersionFunc reports the version of an external tool.
type VersionFunc func(ctx context.Context) (string, error)

type Env struct {
	Service  *pipeline.Service
	Progress *progress.Tracker
	Limiter  *pipeline.Limiter
	DB       *gorm.DB
	MediaDir string

	// UserToken, when set, authorizes requests carrying it as "token".
	UserToken  string
	SessionKey []byte
	Secure     bool

	Versions map[string]VersionFunc
}

func Init(logger *logrus.Logger, e Env) error {
	log = logger.WithFields(logrus.Fields{
		"component": "handlers",
	})

	if len(e.SessionKey) == 0 {
		return errors.New("a session key is required")
	}
	store = sessions.NewCookieStore(e.SessionKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   30 * 24 * 60 * 60, // seconds
		HttpOnly: true,
		Secure:   e.Secure,
	}
	if e.Progress == nil {
		e.Progress = progress.NewTracker(0)
	}
	env = e
	return nil
}

func Fini() {}
