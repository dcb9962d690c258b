package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// ErrTimeout is returned when ffmpeg or ffprobe outlives the runner's timeout.
var ErrTimeout = errors.New("ffmpeg timed out")

type Runner struct {
	FFmpeg  string
	FFprobe string
	Timeout time.Duration
}

func New(ffmpegBin, ffprobeBin string, timeout time.Duration) *Runner {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	return &Runner{FFmpeg: ffmpegBin, FFprobe: ffprobeBin, Timeout: timeout}
}

func (r *Runner) run(ctx context.Context, bin string, args ...string) ([]byte, []byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	log.Infoln(bin, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = 5 * time.Second
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	log.Debugln("stderr:", stderr.String())

	if err != nil {
		log.Errorf("%s error: %v", bin, err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%s: %w after %s", bin, ErrTimeout, r.Timeout)
		}
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%s: %w: %s", bin, err, lastLine(stderr.String()))
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Ffmpeg runs ffmpeg with the provided args and returns (stdout, stderr, error)
func (r *Runner) Ffmpeg(ctx context.Context, args ...string) ([]byte, []byte, error) {
	return r.run(ctx, r.FFmpeg, args...)
}

// Metadata is a set of container tags to write.
type Metadata map[string]string

func (m Metadata) args() []string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var args []string
	for _, k := range keys {
		args = append(args, "-metadata", fmt.Sprintf("%s=%s", k, m[k]))
	}
	return args
}

// Encode converts in to out, carrying existing tags over and then applying
// meta on top. opts are codec/container options placed before the output.
func (r *Runner) Encode(ctx context.Context, in, out string, opts []string, meta Metadata) error {
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", in, "-map_metadata", "0"}
	args = append(args, opts...)
	args = append(args, meta.args()...)
	args = append(args, out)
	if _, _, err := r.Ffmpeg(ctx, args...); err != nil {
		os.Remove(out)
		return err
	}
	return nil
}

func (r *Runner) Version(ctx context.Context) (string, error) {
	stdout, _, err := r.Ffmpeg(ctx, "-version")
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(string(stdout), "\n")
	return strings.TrimSpace(first), nil
}
