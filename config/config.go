package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Site      SiteConfig
	Scheduler SchedulerConfig
	Scraper   ScraperConfig
	Proxy     ProxyConfig
	Export    ExportConfig
	DBPath    string
	DBURL     string
	HTTPAddr  string
	LogLevel  string
	LogFile   string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ScraperConfig struct {
	DelayMS      int
	Fetcher      string
	FetchTimeout time.Duration
}

type ProxyConfig struct {
	URL string
}

// ExportConfig points the catalog CSV export at an S3-compatible bucket.
// An empty Bucket disables the export.
type ExportConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// SiteConfig describes the marketplace being harvested
type SiteConfig struct {
	ID         string    `yaml:"id"`
	Name       string    `yaml:"name"`
	BaseURL    string    `yaml:"base_url"`
	ListingURL string    `yaml:"listing_url"`
	UserAgent  string    `yaml:"user_agent"`
	Language   string    `yaml:"accept_language"`
	Cookie     string    `yaml:"cookie"`
	Selectors  Selectors `yaml:"selectors"`
}

// Selectors is the extraction table. Labels and node selectors change whenever
// the marketplace redesigns its pages, so all of them live in YAML.
type Selectors struct {
	Offer         string `yaml:"offer"`
	OfferTypeAttr string `yaml:"offer_type_attr"`
	OfferType     string `yaml:"offer_type"`
	OfferPrice    string `yaml:"offer_price"`
	Server        Rule   `yaml:"server"`
	Rank          Rule   `yaml:"rank"`
	Agents        Rule   `yaml:"agents"`
	Skins         Rule   `yaml:"skins"`
	Title         Rule   `yaml:"title"`
	Description   Rule   `yaml:"description"`
	Price         Rule   `yaml:"price"`
}

// Rule locates one value on the detail page. With Label set, Block elements are
// scanned for a LabelNode whose text contains Label and the value is the first
// sibling of that node matching Value. Without Label, Value is a document-level
// selector. Pattern is an optional regexp narrowing the text (first group if present).
type Rule struct {
	Block     string `yaml:"block"`
	LabelNode string `yaml:"label_node"`
	Label     string `yaml:"label"`
	Value     string `yaml:"value"`
	Pattern   string `yaml:"pattern"`
}

// DefaultSite is the Valorant accounts section of FunPay
func DefaultSite() SiteConfig {
	labeled := func(label string) Rule {
		return Rule{Block: ".param-item", LabelNode: "h5", Label: label, Value: "div"}
	}
	return SiteConfig{
		ID:         "funpay",
		Name:       "FunPay Valorant accounts",
		BaseURL:    "https://funpay.com",
		ListingURL: "https://funpay.com/lots/612/",
		UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Language:   "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7",
		Cookie:     "cy=rub",
		Selectors: Selectors{
			Offer:         ".tc-item",
			OfferTypeAttr: "data-f-type",
			OfferType:     "продажа",
			OfferPrice:    ".tc-price",
			Server:        labeled("Сервер"),
			Rank:          labeled("Ранг"),
			Agents:        labeled("Количество агентов"),
			Skins:         labeled("Количество скинов"),
			Title:         labeled("Краткое описание"),
			Description:   labeled("Подробное описание"),
			Price:         Rule{Value: ".payment-value"},
		},
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Site: DefaultSite(),
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("SCRAPE_CRON"),
			Interval: getEnvDuration("SCRAPE_INTERVAL", 0),
		},
		Scraper: ScraperConfig{
			DelayMS:      getEnvInt("SCRAPE_DELAY_MS", 500),
			Fetcher:      getEnv("FETCHER", "http"),
			FetchTimeout: getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Export: ExportConfig{
			Bucket:          os.Getenv("EXPORT_S3_BUCKET"),
			Region:          getEnv("EXPORT_S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("EXPORT_S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("EXPORT_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("EXPORT_S3_SECRET_ACCESS_KEY"),
		},
		DBPath:   getEnv("DB_PATH", "data/lots.db"),
		DBURL:    os.Getenv("DATABASE_URL"),
		HTTPAddr: getEnv("HTTP_ADDR", ":3000"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", "harvester.log"),
	}

	if err := cfg.loadSiteConfig(getEnv("SELECTORS_FILE", "config/sites/funpay.yaml")); err != nil {
		return nil, err
	}

	// env beats the YAML file for the two URLs
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.Site.BaseURL = v
	}
	if v := os.Getenv("LISTING_URL"); v != "" {
		cfg.Site.ListingURL = v
	}

	return cfg, nil
}

// loadSiteConfig overlays the YAML file on top of the defaults. Keys missing from
// the file keep their default value; a missing file is not an error.
func (c *Config) loadSiteConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, &c.Site)
}

// Delay is the pause between two detail page fetches
func (c *Config) Delay() time.Duration {
	return time.Duration(c.Scraper.DelayMS) * time.Millisecond
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
