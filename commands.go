package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"stashcast/config"
	"stashcast/crossplatform"
	"stashcast/handlers"
	"stashcast/items"
	"stashcast/media"
	"stashcast/pipeline"
	"stashcast/prefetch"
)

var cfg *config.Config

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "stashcast",
		Short:         "Stash web media as podcast episodes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(); err != nil {
				return err
			}
			return initLogger(cfg.LogLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newStashCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newRetryCommand())
	rootCmd.AddCommand(newCleanupCommand())
	return rootCmd
}

func withApp(fn func(a *app) error) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(serve)
		},
	}
}

func serve(a *app) error {
	log.Infof("GitSHA: %s", config.GetGitSHA())
	log.Infof("BuildDate: %s", config.GetBuildDate())

	if err := ensureAdminAccount(a); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	if a.cfg.SessionKey == "" {
		return errors.New("please set STASHCAST_SESSION_KEY")
	}
	if err := handlers.Init(log, handlers.Env{
		Service:    a.service,
		Progress:   a.tracker,
		Limiter:    a.limiter,
		DB:         a.store.DB(),
		MediaDir:   a.cfg.MediaDir,
		UserToken:  a.cfg.UserToken,
		SessionKey: []byte(a.cfg.SessionKey),
		Secure:     a.cfg.Secure,
		Versions: map[string]handlers.VersionFunc{
			"yt-dlp": a.ytdlp.Version,
			"ffmpeg": a.ffmpeg.Version,
		},
	}); err != nil {
		return err
	}
	defer handlers.Fini()

	n, err := a.manager.Recover()
	if err != nil {
		return err
	}
	if n > 0 {
		log.Infof("resubmitted %d unfinished items", n)
	}
	go a.manager.PeriodicCleanup(a.cfg.CleanupInterval)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	handlers.Register(e)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(":" + a.cfg.Port)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Infoln("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newStashCommand() *cobra.Command {
	var kind string
	var allowMultiple bool
	var pick bool
	var alternate string

	cmd := &cobra.Command{
		Use:   "stash <url-or-path>",
		Short: "Fetch one source into the media directory and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				ctx := cmd.Context()
				source := args[0]
				if pick && alternate == "" && a.strategies.IsDRM(source) {
					res, err := a.service.ResolveAlternates(ctx, source)
					if err != nil {
						return err
					}
					chosen, err := pickCandidate(cmd.InOrStdin(), cmd.OutOrStdout(), res)
					if err != nil {
						return err
					}
					alternate = chosen.URL
				}

				res, err := a.service.Stash(ctx, source, media.ParseRequested(kind), pipeline.StashOptions{
					Wait:          true,
					AllowMultiple: allowMultiple,
					Alternate:     alternate,
				})
				var multi *prefetch.MultipleItemsError
				if errors.As(err, &multi) {
					printEntries(cmd.OutOrStdout(), multi)
					return fmt.Errorf("%w (use --allow-multiple)", err)
				}
				if res != nil {
					out := res.Items
					if len(out) == 0 && res.Item != nil {
						out = []*items.Item{res.Item}
					}
					printItems(cmd.OutOrStdout(), out)
				}
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&kind, "type", "t", "auto", "Media type: auto, audio or video")
	cmd.Flags().BoolVar(&allowMultiple, "allow-multiple", false, "Stash every entry of a playlist or feed")
	cmd.Flags().BoolVar(&pick, "pick", false, "Choose the alternate for a DRM-protected source")
	cmd.Flags().StringVar(&alternate, "alternate", "", "URL to fetch in place of a DRM-protected source")
	return cmd
}

func newResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <url>",
		Short: "List downloadable alternates for a DRM-protected source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				res, err := a.service.ResolveAlternates(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printCandidates(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

func newListCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stashed items, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				list, err := a.service.List(limit)
				if err != nil {
					return err
				}
				out := make([]*items.Item, len(list))
				for i := range list {
					out[i] = &list[i]
				}
				printItems(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of items")
	return cmd
}

func newRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Run a finished item again from the start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				res, err := a.service.Retry(cmd.Context(), args[0], true)
				if res != nil {
					printItems(cmd.OutOrStdout(), []*items.Item{res.Item})
				}
				return err
			})
		},
	}
}

func newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale working directories and compact the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				n, err := a.manager.Cleanup()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale working directories\n", n)
				return nil
			})
		},
	}
}

func printItems(w io.Writer, list []*items.Item) {
	rows := make([][]string, 0, len(list))
	for _, it := range list {
		detail := it.Slug
		if it.Status == items.StatusError {
			detail = it.Error
		}
		rows = append(rows, []string{it.ID, string(it.Status), string(it.Kind), it.Title, detail})
	}
	fmt.Fprintln(w, renderTable([]string{"ID", "Status", "Type", "Title", "Slug / Error"}, rows, nil))
}

func printCandidates(w io.Writer, res *crossplatform.Resolution) {
	fmt.Fprintf(w, "%s (%s)\nquery: %s\n", res.Metadata.Title, res.Metadata.Type, res.Query)
	rows := make([][]string, 0, len(res.Candidates))
	for i, c := range res.Candidates {
		dur := ""
		if c.Duration > 0 {
			dur = (time.Duration(c.Duration) * time.Second).String()
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), c.Catalog, c.Title, c.Channel, dur, c.URL})
	}
	fmt.Fprintln(w, renderTable([]string{"#", "Catalog", "Title", "Channel", "Length", "URL"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}))
}

func printEntries(w io.Writer, multi *prefetch.MultipleItemsError) {
	rows := make([][]string, 0, len(multi.Entries))
	for i, e := range multi.Entries {
		rows = append(rows, []string{strconv.Itoa(i + 1), e.Title, e.URL})
	}
	fmt.Fprintf(w, "%s: %d entries\n", multi.PlaylistTitle, multi.Count())
	fmt.Fprintln(w, renderTable([]string{"#", "Title", "URL"}, rows, []columnAlignment{alignRight}))
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// pickCandidate shows the candidates and reads a choice from in. Without a
// terminal the default candidate is taken.
func pickCandidate(in io.Reader, out io.Writer, res *crossplatform.Resolution) (*crossplatform.Candidate, error) {
	if len(res.Candidates) == 0 {
		return nil, fmt.Errorf("no alternates found for %q", res.Query)
	}
	printCandidates(out, res)
	if !isTerminal(in) {
		if res.Default == nil {
			return nil, errors.New("no default alternate")
		}
		return res.Default, nil
	}

	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "Choose 1-%d [1]: ", len(res.Candidates))
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return &res.Candidates[0], nil
		}
		n, convErr := strconv.Atoi(line)
		if convErr == nil && n >= 1 && n <= len(res.Candidates) {
			return &res.Candidates[n-1], nil
		}
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid choice %q", line)
		}
		fmt.Fprintln(out, "invalid choice")
	}
}
