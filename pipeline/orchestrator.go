// Package pipeline runs items through prefetch, download and processing and
// commits the result into the media directory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"stashcast/crossplatform"
	"stashcast/download"
	"stashcast/items"
	"stashcast/media"
	"stashcast/prefetch"
	"stashcast/process"
	"stashcast/progress"
	"stashcast/runlog"
	"stashcast/slug"
	"stashcast/strategy"
	"stashcast/summary"
)

type Prefetcher interface {
	Prefetch(ctx context.Context, input string, s strategy.Strategy, rl runlog.Logger) (*prefetch.Result, error)
}

type Downloader interface {
	Download(ctx context.Context, source string, s strategy.Strategy, opts download.Options) (*download.Result, error)
}

type Processor interface {
	Process(ctx context.Context, in process.Input) (*process.Result, error)
}

// AlternateResolver finds freely downloadable equivalents of DRM sources.
type AlternateResolver interface {
	Resolve(ctx context.Context, source string, rl runlog.Logger) (*crossplatform.Resolution, error)
}

type Options struct {
	MediaDir      string
	WorkerTimeout time.Duration
	MinFreeDisk   uint64
	SlugMaxWords  int
	SlugMaxChars  int

	// AutoSelect takes the first alternate for a DRM source when the item
	// has none chosen.
	AutoSelect bool

	// SummarySentences caps the summary kept from subtitles; 0 skips it.
	SummarySentences int
}

type Deps struct {
	Strategies *strategy.Resolver
	Prefetcher Prefetcher
	Downloader Downloader
	Processor  Processor
	Alternates AlternateResolver
	Progress   progress.Reporter
	Locks      *Locks
}

type Orchestrator struct {
	store *items.Store
	deps  Deps
	opts  Options

	// serializes slug allocation with the write that claims it
	slugMu sync.Mutex

	now       func() time.Time
	freeSpace func(path string) (uint64, error)
}

func NewOrchestrator(store *items.Store, deps Deps, opts Options) *Orchestrator {
	if deps.Progress == nil {
		deps.Progress = progress.NewTracker(0)
	}
	if deps.Locks == nil {
		deps.Locks = NewLocks(filepath.Join(opts.MediaDir, ".locks"))
	}
	return &Orchestrator{
		store:     store,
		deps:      deps,
		opts:      opts,
		now:       time.Now,
		freeSpace: FreeSpace,
	}
}

// placeholder titles that an embedded title tag may replace
var placeholderTitles = map[string]bool{
	"":                 true,
	"content":          true,
	"downloaded-media": true,
	"local-media":      true,
	slug.Untitled:      true,
}

// run carries the state of one attempt.
type run struct {
	item    *items.Item
	workDir string
	rl      *runlog.Log

	source   string
	strategy strategy.Strategy
	status   items.Status
}

// Run takes item id from PREFETCHING to READY, or to ERROR on any failure.
func (o *Orchestrator) Run(ctx context.Context, id string) error {
	unlock, err := o.deps.Locks.TryLock(id)
	if err != nil {
		return err
	}
	defer unlock()

	item, err := o.store.Get(id)
	if err != nil {
		if errors.Is(err, items.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}

	switch item.Status {
	case items.StatusPrefetching:
	case items.StatusDownloading, items.StatusProcessing:
		// a previous run died without reaching a terminal state
		msg := fmt.Sprintf("Interrupted while %s; retry to start over", item.Status)
		o.markError(item.ID, item.Status, msg, false)
		if err := os.RemoveAll(item.WorkDir(o.opts.MediaDir)); err != nil {
			log.Warnf("cleaning up %s: %v", item.WorkDir(o.opts.MediaDir), err)
		}
		return errors.New(msg)
	default:
		return fmt.Errorf("%w: %s is %s", items.ErrIllegalTransition, id, item.Status)
	}

	if err := o.guard(item); err != nil {
		return err
	}

	r := &run{item: item, workDir: item.WorkDir(o.opts.MediaDir), status: items.StatusPrefetching}
	if err := os.RemoveAll(r.workDir); err != nil {
		return o.fail(r, fmt.Errorf("clearing working directory: %w", err))
	}
	if err := os.MkdirAll(r.workDir, 0o755); err != nil {
		return o.fail(r, fmt.Errorf("creating working directory: %w", err))
	}
	r.rl, err = runlog.Open(filepath.Join(r.workDir, items.LogFile), log.WithField("item", id))
	if err != nil {
		return o.fail(r, err)
	}
	defer r.rl.Close()
	if err := o.store.Update(id, map[string]interface{}{"log_path": items.LogFile}); err != nil {
		return o.fail(r, err)
	}

	if err := o.execute(ctx, r); err != nil {
		return o.fail(r, err)
	}
	return nil
}

// guard fails items that waited in PREFETCHING longer than the worker
// timeout before any worker picked them up.
func (o *Orchestrator) guard(item *items.Item) error {
	if o.opts.WorkerTimeout <= 0 {
		return nil
	}
	waited := o.now().Sub(item.UpdatedAt)
	if waited <= o.opts.WorkerTimeout {
		return nil
	}
	msg := fmt.Sprintf("Worker timeout: item stuck in PREFETCHING for %d seconds; the background worker may not be running",
		int(waited.Seconds()))
	log.Warnln(item.ID, msg)
	o.markError(item.ID, items.StatusPrefetching, msg, false)
	return fmt.Errorf("%w: %s", ErrWorkerTimeout, msg)
}

func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	item, rl := r.item, r.rl
	rl.Printf("=== TASK STARTED ===")
	rl.Printf("ID: %s", item.ID)
	rl.Printf("Source: %s", item.SourceRef)
	rl.Printf("Requested type: %s", item.Requested)
	rl.Printf("Working directory: %s", r.workDir)

	// PREFETCHING
	rl.Printf("=== PREFETCHING ===")
	o.report(item.ID, items.StatusPrefetching, 0)
	if err := o.resolveSource(ctx, r); err != nil {
		return err
	}

	pre, err := o.deps.Prefetcher.Prefetch(ctx, r.source, r.strategy, rl)
	if err != nil {
		return err
	}
	if pre.ExtractedMediaURL != "" && r.strategy == strategy.GenericExtraction {
		next := o.deps.Strategies.Resolve(pre.ExtractedMediaURL)
		rl.Printf("Found embedded media %s, strategy %s -> %s", pre.ExtractedMediaURL, r.strategy, next)
		if next == strategy.DRMRedirect {
			return fmt.Errorf("embedded media %s is DRM-protected", pre.ExtractedMediaURL)
		}
		r.source, r.strategy = pre.ExtractedMediaURL, next
	}

	kind := media.ResolveKind(item.Requested, pre.Streams)
	if media.Ambiguous(item.Requested, pre.Streams) {
		rl.Printf("Could not detect audio or video streams, defaulting to %s", kind)
	}
	rl.Printf("Resolved type: %s", kind)

	title := pre.Title
	if title == "" {
		title = "content"
	}
	s, err := o.allocateSlug(item, title, kind, true, map[string]interface{}{
		"title":       title,
		"author":      pre.Author,
		"description": pre.Description,
		"duration":    pre.Duration,
		"kind":        kind,
		"webpage_url": pre.WebpageURL,
		"extractor":   pre.Extractor,
		"external_id": pre.ExternalID,
	})
	if err != nil {
		return err
	}
	rl.Printf("Title: %s", title)
	rl.Printf("Slug: %s", s)

	if err := o.preflight(rl); err != nil {
		return err
	}

	// DOWNLOADING
	if err := o.advance(r, items.StatusDownloading, nil); err != nil {
		return err
	}
	rl.Printf("=== DOWNLOADING ===")
	raw, err := o.deps.Downloader.Download(ctx, r.source, r.strategy, download.Options{
		Dir:  r.workDir,
		Kind: kind,
		Progress: func(pct float64) {
			o.report(item.ID, items.StatusDownloading, pct)
		},
		Log: rl,
	})
	if err != nil {
		return err
	}

	// PROCESSING
	if err := o.advance(r, items.StatusProcessing, nil); err != nil {
		return err
	}
	rl.Printf("=== PROCESSING ===")
	out, err := o.deps.Processor.Process(ctx, process.Input{
		Raw:         raw,
		Kind:        kind,
		Dir:         r.workDir,
		Title:       title,
		Author:      pre.Author,
		Description: pre.Description,
		Log:         rl,
	})
	if err != nil {
		return err
	}

	fields := map[string]interface{}{
		"content_path":   filepath.Base(out.ContentPath),
		"thumbnail_path": baseName(out.ThumbnailPath),
		"subtitle_path":  baseName(out.SubtitlePath),
		"size":           out.Size,
		"mime_type":      out.MIMEType,
	}
	if out.Duration > 0 {
		fields["duration"] = out.Duration
	}
	if embedded := out.Tags["title"]; placeholderTitles[title] && embedded != "" && embedded != title {
		rl.Printf("Updated title from embedded metadata: %s", embedded)
		title = embedded
		fields["title"] = title
		s, err = o.allocateSlug(item, title, kind, false, fields)
		if err != nil {
			return err
		}
		rl.Printf("Updated slug: %s", s)
	} else if err := o.store.Update(item.ID, fields); err != nil {
		return err
	}

	// commit
	finalDir, err := slug.Dir(o.opts.MediaDir, s)
	if err != nil {
		return err
	}
	rl.Printf("=== MOVING TO FINAL DIRECTORY ===")
	if err := commit(r.workDir, finalDir, rl); err != nil {
		return err
	}
	rl.Printf("Moved to: %s", finalDir)

	// READY
	now := o.now()
	if err := o.advance(r, items.StatusReady, map[string]interface{}{"completed_at": &now, "error": ""}); err != nil {
		return err
	}
	o.report(item.ID, items.StatusReady, 100)
	rl.Printf("=== READY ===")
	rl.Printf("Completed successfully: %s", title)
	log.Infof("item %s ready at %s", item.ID, finalDir)
	o.summarize(item.ID, finalDir, baseName(out.SubtitlePath), rl)
	return nil
}

// summarize keeps the most central subtitle sentences on a READY item.
// Failures only reach the logs.
func (o *Orchestrator) summarize(id, dir, subtitles string, rl runlog.Logger) {
	if o.opts.SummarySentences <= 0 {
		return
	}
	if subtitles == "" {
		rl.Printf("No subtitles available for summary generation")
		return
	}
	rl.Printf("=== GENERATING SUMMARY ===")
	data, err := os.ReadFile(filepath.Join(dir, subtitles))
	if err != nil {
		log.Warnf("summarizing %s: %v", id, err)
		rl.Printf("Summary generation failed: %v", err)
		return
	}
	sentences := summary.Summarize(summary.PlainText(string(data)), o.opts.SummarySentences)
	if len(sentences) == 0 {
		rl.Printf("Subtitles contain no text to summarize")
		return
	}
	if err := o.store.Update(id, map[string]interface{}{"summary": strings.Join(sentences, " ")}); err != nil {
		log.Warnf("summarizing %s: %v", id, err)
		rl.Printf("Summary generation failed: %v", err)
		return
	}
	rl.Printf("Generated %d sentence summary", len(sentences))
}

// resolveSource picks the strategy and, for DRM sources, the alternate to
// fetch instead.
func (o *Orchestrator) resolveSource(ctx context.Context, r *run) error {
	r.source = r.item.SourceRef
	if r.item.Alternate != "" {
		r.rl.Printf("Using selected alternate: %s", r.item.Alternate)
		r.source = r.item.Alternate
	}
	r.strategy = o.deps.Strategies.Resolve(r.source)
	r.rl.Printf("Strategy: %s", r.strategy)
	if r.strategy != strategy.DRMRedirect {
		return nil
	}

	if o.deps.Alternates == nil {
		return fmt.Errorf("%s is DRM-protected and no alternate catalogs are configured", r.source)
	}
	res, err := o.deps.Alternates.Resolve(ctx, r.source, r.rl)
	if err != nil {
		return err
	}
	if !o.opts.AutoSelect || res.Default == nil {
		return fmt.Errorf("%w: %d candidates found for %q", ErrNoAlternate, len(res.Candidates), res.Query)
	}
	r.source = res.Default.URL
	r.rl.Printf("Selected alternate on %s: %s (%s)", res.Default.Catalog, res.Default.Title, r.source)
	if err := o.store.Update(r.item.ID, map[string]interface{}{"alternate": r.source}); err != nil {
		return err
	}

	r.strategy = o.deps.Strategies.Resolve(r.source)
	r.rl.Printf("Alternate strategy: %s", r.strategy)
	if r.strategy == strategy.DRMRedirect {
		return fmt.Errorf("alternate %s is DRM-protected too", r.source)
	}
	return nil
}

// allocateSlug derives a unique slug from title and stores it with fields.
// keepExisting lets a source that already owns a slug for kind keep it.
func (o *Orchestrator) allocateSlug(item *items.Item, title string, kind media.Kind, keepExisting bool, fields map[string]interface{}) (string, error) {
	o.slugMu.Lock()
	defer o.slugMu.Unlock()

	var existing *slug.Owner
	if keepExisting {
		// a retried item has its kind cleared but still owns its slug
		if item.Slug != "" && (item.Kind == "" || item.Kind == kind) {
			existing = &slug.Owner{SourceRef: item.SourceRef, Kind: kind, Slug: item.Slug}
		} else {
			other, err := o.store.FindBySourceKind(item.SourceRef, kind, item.ID)
			if err != nil {
				return "", err
			}
			if other != nil {
				existing = &slug.Owner{SourceRef: other.SourceRef, Kind: other.Kind, Slug: other.Slug}
			}
		}
	}

	base := reserved(slug.Slugify(title, o.opts.SlugMaxWords, o.opts.SlugMaxChars), o.opts.SlugMaxChars)
	s, err := slug.EnsureUnique(base, item.SourceRef, kind, existing, o.store)
	if err != nil {
		return "", err
	}
	if _, err := slug.Dir(o.opts.MediaDir, s); err != nil {
		return "", err
	}

	fields["slug"] = s
	if err := o.store.Update(item.ID, fields); err != nil {
		return "", err
	}
	item.Slug, item.Kind = s, kind
	return s, nil
}

// reserved keeps slugs clear of the names the media root uses for itself
// without growing them past maxChars.
func reserved(s string, maxChars int) string {
	var prefix, suffix string
	if s == items.ErrorsDir {
		suffix = "-1"
	} else if _, ok := items.IsWorkDir(s); ok {
		prefix = "item-"
	} else {
		return s
	}
	if room := maxChars - len(prefix) - len(suffix); room > 0 && room < len(s) {
		s = strings.TrimRight(s[:room], "-")
	}
	return prefix + s + suffix
}

func (o *Orchestrator) preflight(rl runlog.Logger) error {
	if o.opts.MinFreeDisk == 0 {
		return nil
	}
	if err := os.MkdirAll(o.opts.MediaDir, 0o755); err != nil {
		return err
	}
	free, err := o.freeSpace(o.opts.MediaDir)
	if err != nil {
		rl.Printf("Could not check free disk space: %v", err)
		return nil
	}
	if free < o.opts.MinFreeDisk {
		return &DiskSpaceError{Path: o.opts.MediaDir, Free: free, Need: o.opts.MinFreeDisk}
	}
	return nil
}

func (o *Orchestrator) advance(r *run, to items.Status, fields map[string]interface{}) error {
	if err := o.store.Transition(r.item.ID, r.status, to, fields); err != nil {
		return err
	}
	r.status = to
	o.report(r.item.ID, to, 0)
	return nil
}

// commit replaces finalDir with workDir. The rename is the single point at
// which a run becomes visible.
func commit(workDir, finalDir string, rl runlog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(finalDir), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(finalDir); err == nil {
		rl.Printf("Removing existing directory: %s", finalDir)
		if err := os.RemoveAll(finalDir); err != nil {
			return fmt.Errorf("removing previous %s: %w", finalDir, err)
		}
	}
	if err := os.Rename(workDir, finalDir); err != nil {
		return fmt.Errorf("promoting %s: %w", workDir, err)
	}
	return nil
}

// fail records err on the item, keeps the run log under errors/<id> and
// removes the working directory. Cleanup problems are logged only.
func (o *Orchestrator) fail(r *run, err error) error {
	msg := err.Error()
	log.WithField("item", r.item.ID).Errorf("run failed: %v", err)

	kept := false
	if r.rl != nil {
		r.rl.Printf("=== ERROR ===")
		r.rl.Printf("Error: %s", msg)
		r.rl.Close()

		errDir := r.item.ErrorDir(o.opts.MediaDir)
		if cerr := os.RemoveAll(errDir); cerr != nil {
			log.Warnf("clearing %s: %v", errDir, cerr)
		}
		if cerr := os.MkdirAll(errDir, 0o755); cerr != nil {
			log.Warnf("creating %s: %v", errDir, cerr)
		} else if cerr := os.Rename(r.rl.Path(), filepath.Join(errDir, items.LogFile)); cerr != nil {
			log.Warnf("keeping run log: %v", cerr)
		} else {
			kept = true
		}
	}
	if cerr := os.RemoveAll(r.workDir); cerr != nil {
		log.Warnf("cleaning up %s: %v", r.workDir, cerr)
	}

	o.markError(r.item.ID, r.status, msg, kept)
	return err
}

func (o *Orchestrator) markError(id string, from items.Status, msg string, keptLog bool) {
	fields := map[string]interface{}{"error": msg, "log_path": ""}
	if keptLog {
		fields["log_path"] = items.LogFile
	}
	if err := o.store.Transition(id, from, items.StatusError, fields); err != nil {
		log.Errorf("recording failure of %s: %v", id, err)
	}
	o.report(id, items.StatusError, 0)
}

func (o *Orchestrator) report(id string, status items.Status, pct float64) {
	o.deps.Progress.Report(id, string(status), pct)
}

func baseName(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Base(p)
}
