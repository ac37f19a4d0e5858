// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage providers understood by the application.
const (
	ProviderGCS    = "gcs"
	ProviderLocal  = "local"
	ProviderMemory = "memory"
	ProviderNone   = "none"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site       SiteConfig       `mapstructure:"site"`
	Scraper    ScraperConfig    `mapstructure:"scraper"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Export     ExportConfig     `mapstructure:"export"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SiteConfig describes the publishing site.
type SiteConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	ListingURL    string `mapstructure:"listing_url"`
	UserAgent     string `mapstructure:"user_agent"`
	RespectRobots bool   `mapstructure:"respect_robots"`
	EntrySelector string `mapstructure:"entry_selector"`
	PageParam     string `mapstructure:"page_param"`
	// EmptyMarker is text shown by the site when a listing page has no entries.
	EmptyMarker string `mapstructure:"empty_marker"`
}

// ScraperConfig governs pagination, concurrency and timeouts.
type ScraperConfig struct {
	DelaySeconds           float64 `mapstructure:"delay_seconds"`
	MaxConcurrent          int     `mapstructure:"max_concurrent"`
	MaxPages               int     `mapstructure:"max_pages"`
	PageLoadTimeoutMs      int     `mapstructure:"page_load_timeout_ms"`
	PDFDownloadTimeoutMs   int     `mapstructure:"pdf_download_timeout_ms"`
	PageRetries            int     `mapstructure:"page_retries"`
	PDFRetries             int     `mapstructure:"pdf_retries"`
	BackoffInitialMs       int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs           int     `mapstructure:"backoff_max_ms"`
	MaxConsecutiveFailures int     `mapstructure:"max_consecutive_failures"`
	DryRun                 bool    `mapstructure:"dry_run"`
	FetchDetails           bool    `mapstructure:"fetch_details"`
	WarmUp                 bool    `mapstructure:"warm_up"`
}

// ClassifierConfig points at an optional rule table.
type ClassifierConfig struct {
	RulesFile string `mapstructure:"rules_file"`
}

// StorageConfig selects the object store for PDFs.
type StorageConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	LocalDir string `mapstructure:"local_dir"`
}

// ExportConfig controls where the record set is written.
type ExportConfig struct {
	Dir           string         `mapstructure:"dir"`
	FullFile      string         `mapstructure:"full_file"`
	TrafficFile   string         `mapstructure:"traffic_file"`
	MergeExisting bool           `mapstructure:"merge_existing"`
	XLSXPath      string         `mapstructure:"xlsx_path"`
	Postgres      PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig enables the relational export sink.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig enables the /metrics and /healthz listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// legacyEnv maps config keys to the unprefixed variable names used by older
// deployments of the scraper.
var legacyEnv = map[string]string{
	"scraper.delay_seconds":           "SCRAPE_DELAY_SECONDS",
	"scraper.max_concurrent":          "MAX_CONCURRENT_PAGES",
	"scraper.max_pages":               "MAX_PAGES_TO_SCRAPE",
	"scraper.page_load_timeout_ms":    "PAGE_LOAD_TIMEOUT",
	"scraper.pdf_download_timeout_ms": "PDF_DOWNLOAD_TIMEOUT",
	"scraper.dry_run":                 "DRY_RUN",
	"storage.bucket":                  "BUCKET_NAME",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARRETES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		prefixed := "ARRETES_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "https://www.prefecturedepolice.interieur.gouv.fr")
	v.SetDefault("site.listing_url",
		"https://www.prefecturedepolice.interieur.gouv.fr/actualites-et-presse/arretes/accueil-arretes")
	v.SetDefault("site.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("site.respect_robots", true)
	v.SetDefault("site.entry_selector", "article, div[class*=arret], div[class*=item], div[class*=card]")
	v.SetDefault("site.page_param", "page")
	v.SetDefault("site.empty_marker", "Aucun résultat")
	v.SetDefault("scraper.delay_seconds", 2.0)
	v.SetDefault("scraper.max_concurrent", 5)
	v.SetDefault("scraper.max_pages", 0)
	v.SetDefault("scraper.page_load_timeout_ms", 90000)
	v.SetDefault("scraper.pdf_download_timeout_ms", 60000)
	v.SetDefault("scraper.page_retries", 2)
	v.SetDefault("scraper.pdf_retries", 2)
	v.SetDefault("scraper.backoff_initial_ms", 1000)
	v.SetDefault("scraper.backoff_max_ms", 15000)
	v.SetDefault("scraper.max_consecutive_failures", 3)
	v.SetDefault("scraper.dry_run", false)
	v.SetDefault("scraper.fetch_details", true)
	v.SetDefault("scraper.warm_up", true)
	v.SetDefault("classifier.rules_file", "")
	v.SetDefault("storage.provider", ProviderLocal)
	v.SetDefault("storage.bucket", "arretes-pdf")
	v.SetDefault("storage.prefix", "arretes")
	v.SetDefault("storage.local_dir", "data/objects")
	v.SetDefault("export.dir", "data")
	v.SetDefault("export.full_file", "arretes.csv")
	v.SetDefault("export.traffic_file", "arretes_circulation.csv")
	v.SetDefault("export.merge_existing", true)
	v.SetDefault("export.xlsx_path", "")
	v.SetDefault("export.postgres.dsn", "")
	v.SetDefault("export.postgres.table", "arretes")
	v.SetDefault("export.postgres.max_conns", 4)
	v.SetDefault("export.postgres.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validateURL("site.listing_url", c.Site.ListingURL); err != nil {
		return err
	}
	if err := validateURL("site.base_url", c.Site.BaseURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.Site.EntrySelector) == "" {
		return errors.New("site.entry_selector must be set")
	}
	if c.Scraper.DelaySeconds < 0 {
		return errors.New("scraper.delay_seconds must be >= 0")
	}
	if c.Scraper.MaxConcurrent <= 0 {
		return errors.New("scraper.max_concurrent must be > 0")
	}
	if c.Scraper.MaxPages < 0 {
		return errors.New("scraper.max_pages must be >= 0")
	}
	if c.Scraper.PageLoadTimeoutMs <= 0 {
		return errors.New("scraper.page_load_timeout_ms must be > 0")
	}
	if c.Scraper.PDFDownloadTimeoutMs <= 0 {
		return errors.New("scraper.pdf_download_timeout_ms must be > 0")
	}
	if c.Scraper.PageRetries < 0 || c.Scraper.PDFRetries < 0 {
		return errors.New("scraper retries must be >= 0")
	}
	if c.Scraper.MaxConsecutiveFailures <= 0 {
		return errors.New("scraper.max_consecutive_failures must be > 0")
	}
	switch c.Storage.Provider {
	case ProviderGCS:
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket must be set when provider is gcs")
		}
	case ProviderLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir must be set when provider is local")
		}
	case ProviderMemory, ProviderNone:
	default:
		return fmt.Errorf("storage.provider %q is not one of gcs, local, memory, none", c.Storage.Provider)
	}
	if c.Export.FullFile == "" || c.Export.TrafficFile == "" {
		return errors.New("export.full_file and export.traffic_file must be set")
	}
	if c.Export.FullFile == c.Export.TrafficFile {
		return errors.New("export.full_file and export.traffic_file must differ")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return errors.New("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

// Simulated reports whether uploads are disabled for this run.
func (c Config) Simulated() bool {
	return c.Scraper.DryRun || c.Storage.Provider == ProviderNone
}

// PageTimeout returns the per-page render budget.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Scraper.PageLoadTimeoutMs) * time.Millisecond
}

// PDFTimeout returns the per-document download budget.
func (c Config) PDFTimeout() time.Duration {
	return time.Duration(c.Scraper.PDFDownloadTimeoutMs) * time.Millisecond
}

// PageDelay returns the minimum spacing between listing page fetches.
func (c Config) PageDelay() time.Duration {
	return time.Duration(c.Scraper.DelaySeconds * float64(time.Second))
}

// Backoff returns the initial and maximum retry backoff.
func (c Config) Backoff() (time.Duration, time.Duration) {
	return time.Duration(c.Scraper.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Scraper.BackoffMaxMs) * time.Millisecond
}

func validateURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s must be set", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL", key)
	}
	return nil
}
