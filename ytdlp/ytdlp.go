package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"stashcast/media"
)

// ErrTimeout is returned when yt-dlp outlives the client's timeout.
var ErrTimeout = errors.New("yt-dlp timed out")

// DownloadError is a failure yt-dlp itself reported, as opposed to the tool
// being missing or its output being unreadable.
type DownloadError struct {
	Message string
	Stderr  string
}

func (e *DownloadError) Error() string {
	return "yt-dlp: " + e.Message
}

type Client struct {
	Bin     string
	Timeout time.Duration
}

func New(bin string, timeout time.Duration) *Client {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &Client{Bin: bin, Timeout: timeout}
}

// Run runs yt-dlp with the provided args and returns (stdout, stderr, error)
func (c *Client) Run(ctx context.Context, args ...string) ([]byte, []byte, error) {
	return c.run(ctx, nil, args...)
}

func (c *Client) run(ctx context.Context, onLine func(string), args ...string) ([]byte, []byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	log.Infoln(c.Bin, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, c.Bin, args...)
	cmd.WaitDelay = 5 * time.Second
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	if onLine != nil {
		cmd.Stdout = &lineWriter{buf: &stdout, fn: onLine}
	} else {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = &stderr
	err := cmd.Run()
	log.Debugln("stderr:", stderr.String())

	if err != nil {
		log.Errorf("yt-dlp error: %v", err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%w after %s", ErrTimeout, c.Timeout)
		}
		if ctx.Err() != nil {
			return stdout.Bytes(), stderr.Bytes(), ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), stderr.Bytes(), &DownloadError{
				Message: errorLine(stderr.String(), exitErr),
				Stderr:  stderr.String(),
			}
		}
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("running %s: %w", c.Bin, err)
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

func errorLine(stderr string, err error) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(lines[i], "ERROR:"))
		}
	}
	return err.Error()
}

type Format struct {
	FormatID string `json:"format_id"`
	Ext      string `json:"ext"`
	VCodec   string `json:"vcodec"`
	ACodec   string `json:"acodec"`
}

type Entry struct {
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	WebpageURL string  `json:"webpage_url"`
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	Duration   float64 `json:"duration"`
}

// Link is the best URL yt-dlp gave for an entry.
func (e Entry) Link() string {
	if e.WebpageURL != "" {
		return e.WebpageURL
	}
	return e.URL
}

type Info struct {
	Type        string   `json:"_type"`
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Uploader    string   `json:"uploader"`
	Channel     string   `json:"channel"`
	Duration    float64  `json:"duration"`
	Extractor   string   `json:"extractor"`
	WebpageURL  string   `json:"webpage_url"`
	Thumbnail   string   `json:"thumbnail"`
	Ext         string   `json:"ext"`
	VCodec      string   `json:"vcodec"`
	ACodec      string   `json:"acodec"`
	Formats     []Format `json:"formats"`
	Entries     []Entry  `json:"entries"`
}

func (i *Info) IsPlaylist() bool {
	return i.Type == "playlist" || len(i.Entries) > 0
}

func (i *Info) Author() string {
	if i.Uploader != "" {
		return i.Uploader
	}
	return i.Channel
}

func present(codec string) bool {
	return codec != "" && codec != "none"
}

// Streams reports a stream as present when any format carries a real codec.
func (i *Info) Streams() media.Streams {
	s := media.Streams{HasVideo: present(i.VCodec), HasAudio: present(i.ACodec)}
	for _, f := range i.Formats {
		s.HasVideo = s.HasVideo || present(f.VCodec)
		s.HasAudio = s.HasAudio || present(f.ACodec)
	}
	return s
}

func ParseInfo(data []byte) (*Info, error) {
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decoding yt-dlp json: %w", err)
	}
	return &info, nil
}

// Metadata fetches info without downloading payload bytes. Playlists come
// back flat, with one entry per item.
func (c *Client) Metadata(ctx context.Context, url string) (*Info, error) {
	stdout, _, err := c.Run(ctx, "-J", "--flat-playlist", "--no-warnings", url)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(stdout)) == 0 {
		return nil, &DownloadError{Message: "empty metadata output"}
	}
	return ParseInfo(stdout)
}

// OutputName is the base name yt-dlp writes the payload under.
const OutputName = "download"

type DownloadOptions struct {
	URL       string
	Dir       string
	SubLang   string
	ExtraArgs []string
	Progress  func(percent float64)
}

func downloadArgs(opts DownloadOptions) []string {
	lang := opts.SubLang
	if lang == "" {
		lang = "en"
	}
	args := []string{
		"--no-playlist",
		"--newline",
		"--no-warnings",
		"-o", filepath.Join(opts.Dir, OutputName+".%(ext)s"),
		"--write-thumbnail",
		"--write-subs",
		"--write-auto-subs",
		"--sub-langs", lang,
		"--sub-format", "vtt/srt/best",
	}
	args = append(args, opts.ExtraArgs...)
	return append(args, opts.URL)
}

var progressRe = regexp.MustCompile(`^\[download\]\s+([0-9.]+)%`)

// Download fetches the payload plus thumbnail and subtitles into opts.Dir.
func (c *Client) Download(ctx context.Context, opts DownloadOptions) error {
	var onLine func(string)
	if opts.Progress != nil {
		onLine = func(line string) {
			if m := progressRe.FindStringSubmatch(line); m != nil {
				if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
					opts.Progress(pct)
				}
			}
		}
	}
	_, _, err := c.run(ctx, onLine, downloadArgs(opts)...)
	return err
}

// Search queries a yt-dlp search extractor such as "ytsearch" or "scsearch".
func (c *Client) Search(ctx context.Context, prefix string, n int, query string) ([]Entry, error) {
	stdout, _, err := c.Run(ctx, "-J", "--flat-playlist", "--no-warnings", fmt.Sprintf("%s%d:%s", prefix, n, query))
	if err != nil {
		return nil, err
	}
	info, err := ParseInfo(stdout)
	if err != nil {
		return nil, err
	}
	return info.Entries, nil
}

func (c *Client) Version(ctx context.Context) (string, error) {
	stdout, _, err := c.Run(ctx, "--version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(stdout)), nil
}

type lineWriter struct {
	buf     *bytes.Buffer
	fn      func(string)
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.fn(strings.TrimRight(string(w.pending[:i]), "\r"))
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}
