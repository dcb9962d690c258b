package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/google/shlex"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

var gitSHA string
var buildDate string

type Config struct {
	MediaDir  string `mapstructure:"MEDIA_DIR"`
	ConfigDir string `mapstructure:"CONFIG_DIR"`
	Port      string `mapstructure:"PORT"`
	BaseURL   string `mapstructure:"BASE_URL"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`

	SlugMaxWords int `mapstructure:"SLUG_MAX_WORDS"`
	SlugMaxChars int `mapstructure:"SLUG_MAX_CHARS"`
	MaxEpisodes  int `mapstructure:"MAX_EPISODES"`

	WorkerTimeout   time.Duration `mapstructure:"WORKER_TIMEOUT"`
	ToolTimeout     time.Duration `mapstructure:"TOOL_TIMEOUT"`
	HTTPTimeout     time.Duration `mapstructure:"HTTP_TIMEOUT"`
	StaleTmpAge     time.Duration `mapstructure:"STALE_TMP_AGE"`
	CleanupInterval time.Duration `mapstructure:"CLEANUP_INTERVAL"`
	MaxConcurrency  int           `mapstructure:"MAX_CONCURRENCY"`
	MinFreeDisk     int64         `mapstructure:"MIN_FREE_DISK"`
	MaxDownloadSize int64         `mapstructure:"MAX_DOWNLOAD_SIZE"`

	YtdlpBin   string `mapstructure:"YTDLP_BIN"`
	FFmpegBin  string `mapstructure:"FFMPEG_BIN"`
	FFprobeBin string `mapstructure:"FFPROBE_BIN"`

	YtdlpArgsAudio  string `mapstructure:"YTDLP_ARGS_AUDIO"`
	YtdlpArgsVideo  string `mapstructure:"YTDLP_ARGS_VIDEO"`
	FFmpegArgsAudio string `mapstructure:"FFMPEG_ARGS_AUDIO"`
	FFmpegArgsVideo string `mapstructure:"FFMPEG_ARGS_VIDEO"`
	SubtitleLang    string `mapstructure:"SUBTITLE_LANG"`

	// SummarySentences caps the subtitle summary; 0 turns it off.
	SummarySentences int `mapstructure:"SUMMARY_SENTENCES"`

	SearchLimit      int    `mapstructure:"SEARCH_LIMIT"`
	SearchVideo      string `mapstructure:"SEARCH_VIDEO"`
	SearchAudio      string `mapstructure:"SEARCH_AUDIO"`
	SearchVideoAlt   string `mapstructure:"SEARCH_VIDEO_ALT"`
	DRMHosts         string `mapstructure:"DRM_HOSTS"`
	OEmbedURL        string `mapstructure:"OEMBED_URL"`
	PodcastSearchURL string `mapstructure:"PODCAST_SEARCH_URL"`
	AutoSelect       bool   `mapstructure:"AUTO_SELECT"`

	UserToken     string `mapstructure:"USER_TOKEN"`
	AdminPassword string `mapstructure:"ADMIN_PASSWORD"`
	SessionKey    string `mapstructure:"SESSION_KEY"`
	Secure        bool   `mapstructure:"SECURE"`
}

func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// human readable sizes like "500MB"; plain integers fall through
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("MEDIA_DIR", "data/media")
	vp.SetDefault("CONFIG_DIR", "data/config")
	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE_URL", "")
	vp.SetDefault("LOG_LEVEL", "info")

	vp.SetDefault("SLUG_MAX_WORDS", 6)
	vp.SetDefault("SLUG_MAX_CHARS", 40)
	vp.SetDefault("MAX_EPISODES", 0)

	vp.SetDefault("WORKER_TIMEOUT", "30s")
	vp.SetDefault("TOOL_TIMEOUT", "1h")
	vp.SetDefault("HTTP_TIMEOUT", "30s")
	vp.SetDefault("STALE_TMP_AGE", "24h")
	vp.SetDefault("CLEANUP_INTERVAL", "1h")
	vp.SetDefault("MAX_CONCURRENCY", 2)
	vp.SetDefault("MIN_FREE_DISK", "500MB")
	vp.SetDefault("MAX_DOWNLOAD_SIZE", "0")

	vp.SetDefault("YTDLP_BIN", "yt-dlp")
	vp.SetDefault("FFMPEG_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")

	vp.SetDefault("YTDLP_ARGS_AUDIO", "-f bestaudio/best")
	vp.SetDefault("YTDLP_ARGS_VIDEO", "-f bestvideo*+bestaudio/best")
	vp.SetDefault("FFMPEG_ARGS_AUDIO", "-vn -c:a aac -b:a 128k")
	vp.SetDefault("FFMPEG_ARGS_VIDEO", "-c:v libx264 -preset veryfast -crf 23 -c:a aac -b:a 128k -movflags +faststart")
	vp.SetDefault("SUBTITLE_LANG", "en")
	vp.SetDefault("SUMMARY_SENTENCES", 3)

	vp.SetDefault("SEARCH_LIMIT", 5)
	vp.SetDefault("SEARCH_VIDEO", "ytsearch")
	vp.SetDefault("SEARCH_AUDIO", "scsearch")
	vp.SetDefault("SEARCH_VIDEO_ALT", "bilisearch")
	vp.SetDefault("DRM_HOSTS", "spotify.com")
	vp.SetDefault("OEMBED_URL", "https://open.spotify.com/oembed")
	vp.SetDefault("PODCAST_SEARCH_URL", "https://itunes.apple.com/search")
	vp.SetDefault("AUTO_SELECT", true)

	vp.SetDefault("USER_TOKEN", "")
	vp.SetDefault("ADMIN_PASSWORD", "")
	vp.SetDefault("SESSION_KEY", "")
	vp.SetDefault("SECURE", false)
}

// Load reads defaults, then stashcast.yaml, then STASHCAST_* environment variables.
func Load() (*Config, error) {
	vp := viper.New()
	setDefaults(vp)

	vp.SetConfigName("stashcast")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/stashcast/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("STASHCAST")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SlugMaxWords <= 0 || c.SlugMaxChars <= 0 {
		return fmt.Errorf("slug caps must be positive (words=%d chars=%d)", c.SlugMaxWords, c.SlugMaxChars)
	}
	if c.SummarySentences < 0 {
		return fmt.Errorf("summary sentences must not be negative: %d", c.SummarySentences)
	}
	if c.MaxEpisodes < 0 {
		return fmt.Errorf("max episodes must not be negative: %d", c.MaxEpisodes)
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 1
	}
	for _, s := range []string{c.YtdlpArgsAudio, c.YtdlpArgsVideo, c.FFmpegArgsAudio, c.FFmpegArgsVideo} {
		if _, err := shlex.Split(s); err != nil {
			return fmt.Errorf("bad tool arguments %q: %w", s, err)
		}
	}
	return nil
}

// DatabasePath is where the sqlite item store lives.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.ConfigDir, "stashcast.db")
}

// DRMHostList splits the comma separated DRM_HOSTS value.
func (c *Config) DRMHostList() []string {
	var hosts []string
	for _, h := range strings.Split(c.DRMHosts, ",") {
		if h = strings.TrimSpace(strings.ToLower(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// Args splits a configured argument string the way a shell would.
func Args(s string) []string {
	args, err := shlex.Split(s)
	if err != nil {
		return nil
	}
	return args
}

func GetGitSHA() string {
	if gitSHA == "" {
		return "<not provided>"
	} else {
		return gitSHA
	}
}

func GetBuildDate() string {
	if buildDate == "" {
		return "<not provided>"
	} else {
		return buildDate
	}
}
