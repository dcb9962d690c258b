package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	"stashcast/crossplatform"
	"stashcast/items"
	"stashcast/media"
	"stashcast/playlists"
	"stashcast/prefetch"
	"stashcast/progress"
	"stashcast/strategy"
)

// Dispatcher runs items in the background.
type Dispatcher interface {
	Submit(id string)
}

type StashOptions struct {
	// Wait runs the pipeline before returning.
	Wait bool
	// AllowMultiple stashes every entry of a playlist-like source.
	AllowMultiple bool
	// Alternate is the URL to fetch in place of a DRM-protected source.
	Alternate  string
	PlaylistID uint
}

type StashResult struct {
	Item   *items.Item
	Reused bool

	// set when a multi-item source was expanded
	Playlist *playlists.Playlist
	Items    []*items.Item
}

// Service is what callers use to stash sources: it applies the episode
// limit, reuses items per source and kind, and dispatches runs.
type Service struct {
	store      *items.Store
	db         *gorm.DB
	runner     Runner
	dispatcher Dispatcher
	limiter    *Limiter
	strategies *strategy.Resolver
	alternates AlternateResolver
	progress   *progress.Tracker
	mediaDir   string
}

type ServiceDeps struct {
	Runner     Runner
	Dispatcher Dispatcher
	Limiter    *Limiter
	Strategies *strategy.Resolver
	Alternates AlternateResolver
	Progress   *progress.Tracker
	MediaDir   string
}

func NewService(store *items.Store, deps ServiceDeps) *Service {
	if deps.Progress == nil {
		deps.Progress = progress.NewTracker(0)
	}
	if deps.Limiter == nil {
		deps.Limiter = NewLimiter(store, 0)
	}
	return &Service{
		store:      store,
		db:         store.DB(),
		runner:     deps.Runner,
		dispatcher: deps.Dispatcher,
		limiter:    deps.Limiter,
		strategies: deps.Strategies,
		alternates: deps.Alternates,
		progress:   deps.Progress,
		mediaDir:   deps.MediaDir,
	}
}

// Stash reuses the item for (source, requested) or creates one, then runs it.
// An item that is still in flight is returned as is.
func (s *Service) Stash(ctx context.Context, source string, requested media.Requested, opts StashOptions) (*StashResult, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, ErrEmptySource
	}

	existing, err := s.store.FindForStash(source, requested)
	if err != nil {
		return nil, err
	}

	res := &StashResult{}
	if existing != nil {
		if !existing.Status.Terminal() {
			log.Infof("%s is already in flight as %s", source, existing.ID)
			return &StashResult{Item: existing, Reused: true}, nil
		}
		if err := s.store.Reset(existing.ID); err != nil {
			return nil, err
		}
		fields := map[string]interface{}{
			"requested":      requested,
			"allow_multiple": opts.AllowMultiple,
		}
		if opts.Alternate != "" {
			fields["alternate"] = opts.Alternate
		}
		if err := s.store.Update(existing.ID, fields); err != nil {
			return nil, err
		}
		log.Infof("reusing item %s for %s", existing.ID, source)
		res.Reused = true
		res.Item, err = s.store.Get(existing.ID)
		if err != nil {
			return nil, err
		}
	} else {
		if err := s.limiter.Gate(); err != nil {
			return nil, err
		}
		item := &items.Item{
			SourceRef:     source,
			Requested:     requested,
			Alternate:     opts.Alternate,
			AllowMultiple: opts.AllowMultiple,
			PlaylistID:    opts.PlaylistID,
		}
		if err := s.store.Create(item); err != nil {
			return nil, err
		}
		log.Infof("created item %s for %s", item.ID, source)
		res.Item = item
	}

	s.progress.Report(res.Item.ID, string(items.StatusPrefetching), 0)
	if !opts.Wait {
		s.dispatcher.Submit(res.Item.ID)
		return res, nil
	}
	return s.runNow(ctx, res)
}

func (s *Service) runNow(ctx context.Context, res *StashResult) (*StashResult, error) {
	id := res.Item.ID
	if err := s.store.Touch(id); err != nil {
		return nil, err
	}
	runErr := s.runner.Run(ctx, id)

	expanded, err := s.Expand(ctx, id, runErr, true)
	if err != nil {
		return nil, err
	}
	if expanded != nil {
		return expanded, nil
	}

	item, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	res.Item = item
	return res, runErr
}

// Expand turns a run that stopped on a multi-item source into a playlist of
// per-entry items when the item allowed it. It returns nil when runErr is not
// such a stop.
func (s *Service) Expand(ctx context.Context, id string, runErr error, wait bool) (*StashResult, error) {
	var multi *prefetch.MultipleItemsError
	if !errors.As(runErr, &multi) {
		return nil, nil
	}
	item, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !item.AllowMultiple {
		return nil, nil
	}

	p, err := playlists.Create(s.db, item.SourceRef, multi.PlaylistTitle, item.Requested, multi.Count())
	if err != nil {
		return nil, err
	}
	log.Infof("expanding %s into playlist %d with %d entries", item.SourceRef, p.ID, multi.Count())

	// the placeholder only existed to discover the entries
	if err := s.store.Delete(id); err != nil {
		return nil, err
	}
	s.removeErrorDir(item)
	s.progress.Forget(id)

	res := &StashResult{Playlist: p}
	for _, e := range multi.Entries {
		r, err := s.Stash(ctx, e.URL, item.Requested, StashOptions{Wait: wait, PlaylistID: p.ID})
		var limit *LimitReachedError
		if errors.As(err, &limit) {
			log.Warnf("playlist %d stopped at %d entries: %v", p.ID, len(res.Items), err)
			break
		}
		if r != nil {
			res.Items = append(res.Items, r.Item)
		}
		if err != nil {
			log.Warnf("playlist %d entry %s: %v", p.ID, e.URL, err)
		}
	}
	if len(res.Items) > 0 {
		res.Item = res.Items[0]
	}
	if wait {
		if p, _, err = playlists.Refresh(s.db, s.store, p.ID); err == nil {
			res.Playlist = p
		}
	}
	return res, nil
}

// removeErrorDir drops the log kept from a failed run. Failures are logged only.
func (s *Service) removeErrorDir(item *items.Item) {
	dir := item.ErrorDir(s.mediaDir)
	if err := os.RemoveAll(dir); err != nil {
		log.Warnf("removing %s: %v", dir, err)
	}
}

// OnDone is the Manager hook that expands background runs.
func (s *Service) OnDone(ctx context.Context, id string, err error) {
	if _, xerr := s.Expand(ctx, id, err, false); xerr != nil {
		log.Errorf("expanding %s: %v", id, xerr)
	}
}

// Retry re-runs a finished item from PREFETCHING.
func (s *Service) Retry(ctx context.Context, id string, wait bool) (*StashResult, error) {
	item, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, items.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	if !item.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyRunning, id, item.Status)
	}
	if err := s.store.Reset(id); err != nil {
		return nil, err
	}
	s.removeErrorDir(item)
	if item, err = s.store.Get(id); err != nil {
		return nil, err
	}
	res := &StashResult{Item: item, Reused: true}
	s.progress.Report(id, string(items.StatusPrefetching), 0)
	if !wait {
		s.dispatcher.Submit(id)
		return res, nil
	}
	return s.runNow(ctx, res)
}

// ResolveAlternates lists downloadable candidates for a DRM-protected source
// so a caller can pick one.
func (s *Service) ResolveAlternates(ctx context.Context, source string) (*crossplatform.Resolution, error) {
	if s.strategies != nil && !s.strategies.IsDRM(source) {
		return nil, fmt.Errorf("%s is not a DRM-protected source", source)
	}
	if s.alternates == nil {
		return nil, errors.New("no alternate catalogs configured")
	}
	return s.alternates.Resolve(ctx, source, nil)
}

// Playlist refreshes and returns playlist id with its items.
func (s *Service) Playlist(id uint) (*playlists.Playlist, []items.Item, error) {
	return playlists.Refresh(s.db, s.store, id)
}

func (s *Service) Get(id string) (*items.Item, error) {
	return s.store.Get(id)
}

func (s *Service) List(limit int) ([]items.Item, error) {
	return s.store.List(limit)
}
