package profile

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"log/slog"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server and its workers.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo".
	Mode string
	// Addr is the binding address for the HTTP server.
	Addr string
	// Port is the binding port for the HTTP server.
	Port int
	// Data is the data directory (blob storage, sqlite database).
	Data string
	// Driver is the database driver: sqlite or postgres.
	Driver string
	// DSN is the database source name.
	DSN string
	// InstanceURL is the public URL of this instance, used to build
	// stored-media URLs.
	InstanceURL string
	// Version is the current version of the instance.
	Version string

	// MediaArchiveEnabled toggles image/video archival after parse.
	MediaArchiveEnabled bool
	// MediaWebPQuality is the WebP transcode quality (1-100).
	MediaWebPQuality int
	// CWebPPath is the optional external cwebp binary used as a transcode
	// fast path. Empty disables the external path.
	CWebPPath string

	// DistributionWorkers is the distribution scheduler pool size.
	DistributionWorkers int

	// TelegramBotToken enables the Telegram push sink when set.
	TelegramBotToken string
	// QQEndpoint is the OneBot-compatible HTTP endpoint for the QQ sink.
	QQEndpoint string
	// QQAccessToken is the optional bearer token for the QQ endpoint.
	QQAccessToken string

	// TagSuggestAPIKey enables AI tag suggestion when set.
	TagSuggestAPIKey string
	// TagSuggestBaseURL is an OpenAI-compatible API base URL.
	TagSuggestBaseURL string
	// TagSuggestModel is the model used for tag suggestion.
	TagSuggestModel string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsMediaArchiveEnabled reports whether parsed media should be archived.
func (p *Profile) IsMediaArchiveEnabled() bool {
	return p.MediaArchiveEnabled
}

// IsTagSuggestEnabled reports whether AI tag suggestion is configured.
func (p *Profile) IsTagSuggestEnabled() bool {
	return p.TagSuggestAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.MediaArchiveEnabled = getEnvOrDefault("LINKHOARD_MEDIA_ARCHIVE_ENABLED", "true") == "true"
	p.MediaWebPQuality = getEnvOrDefaultInt("LINKHOARD_MEDIA_WEBP_QUALITY", 80)
	p.CWebPPath = getEnvOrDefault("LINKHOARD_CWEBP_PATH", "")

	p.DistributionWorkers = getEnvOrDefaultInt("LINKHOARD_DISTRIBUTION_WORKERS", 3)

	p.TelegramBotToken = getEnvOrDefault("LINKHOARD_TELEGRAM_BOT_TOKEN", "")
	p.QQEndpoint = getEnvOrDefault("LINKHOARD_QQ_ENDPOINT", "")
	p.QQAccessToken = getEnvOrDefault("LINKHOARD_QQ_ACCESS_TOKEN", "")

	p.TagSuggestAPIKey = getEnvOrDefault("LINKHOARD_TAG_SUGGEST_API_KEY", "")
	p.TagSuggestBaseURL = getEnvOrDefault("LINKHOARD_TAG_SUGGEST_BASE_URL", "https://api.openai.com/v1")
	p.TagSuggestModel = getEnvOrDefault("LINKHOARD_TAG_SUGGEST_MODEL", "gpt-4o-mini")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "linkhoard")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/linkhoard"
		}
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	switch p.Driver {
	case "sqlite":
		if p.DSN == "" {
			p.DSN = filepath.Join(dataDir, "linkhoard_"+p.Mode+".db")
		}
	case "postgres":
		if p.DSN == "" {
			return errors.New("dsn is required for postgres driver")
		}
	default:
		return errors.Errorf("unsupported driver %q, expected sqlite or postgres", p.Driver)
	}

	if p.MediaWebPQuality <= 0 || p.MediaWebPQuality > 100 {
		p.MediaWebPQuality = 80
	}
	if p.DistributionWorkers <= 0 {
		p.DistributionWorkers = 3
	}

	return nil
}
