package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	settingsFile = "roxy.json"
	secretsFile  = "secrets.json"
)

// AppConfig holds the non-secret settings persisted in roxy.json.
type AppConfig struct {
	DataPath string `json:"-"`

	URL         string `json:"url"`
	Port        int    `json:"port"`
	UseHTTPS    bool   `json:"useHttps"`
	SSLCertPath string `json:"sslCertPath"`
	SSLKeyPath  string `json:"sslKeyPath"`
	IsProxied   bool   `json:"isProxied"`

	AllowRegistrations      bool `json:"allowRegistrations"`
	DefaultLimitsTotalMB    int  `json:"defaultLimitsTotalMb"`
	DefaultLimitsCustomURLs int  `json:"defaultLimitsCustomUrls"`

	URLShortenerKeyLength int `json:"urlShortenerKeyLength"`
	PasteKeyLength        int `json:"pasteKeyLength"`
	FileKeyLength         int `json:"fileKeyLength"`

	GlobalRateLimitPerSecond int      `json:"globalRateLimitPerSecond"`
	RateLimitExceptions      []string `json:"rateLimitExceptions"`
	// RateLimitStore is "memory" or "redis".
	RateLimitStore string `json:"rateLimitStore"`

	// DatabaseURI accepts sqlite://, postgres:// and mysql:// forms.
	DatabaseURI    string   `json:"databaseUri"`
	RedisAddr      string   `json:"redisAddr"`
	RedisPassword  string   `json:"redisPassword"`
	RedisDB        int      `json:"redisDb"`
	GeoIPDBPath    string   `json:"geoipDbPath"`
	AllowedOrigins []string `json:"allowedOrigins"`

	GinMode       string `json:"ginMode"`
	GinLogPath    string `json:"ginLogPath"`
	LogLevel      string `json:"logLevel"`
	LogPath       string `json:"logPath"`
	LogMaxSizeMB  int    `json:"logMaxSizeMb"`
	LogMaxBackups int    `json:"logMaxBackups"`
	LogMaxAgeDays int    `json:"logMaxAgeDays"`
	LogCompress   bool   `json:"logCompress"`

	Secrets Secrets `json:"-"`
}

// Secrets holds signing material persisted in secrets.json.
type Secrets struct {
	AccessTokenSecret  string `json:"accessTokenSecret"`
	RefreshTokenSecret string `json:"refreshTokenSecret"`
	// TTLs in seconds.
	AccessTokenTTL  int `json:"accessTokenTTL"`
	RefreshTokenTTL int `json:"refreshTokenTTL"`
}

var cfg AppConfig
var loaded bool

// Load reads <dataPath>/roxy.json and <dataPath>/secrets.json, creating both
// with defaults on first run, then applies environment overrides. It should be
// called once during boot.
func Load(dataPath string) AppConfig {
	if loaded {
		return cfg
	}
	c, err := LoadFrom(dataPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	cfg = c
	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it from the default data path if necessary.
func Get() AppConfig {
	if !loaded {
		return Load(DefaultDataPath())
	}
	return cfg
}

// DefaultDataPath is ROXY_DATA_PATH or ./data.
func DefaultDataPath() string {
	return getEnv("ROXY_DATA_PATH", "data")
}

// LoadFrom is Load without the package cache.
func LoadFrom(dataPath string) (AppConfig, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return AppConfig{}, fmt.Errorf("create data path: %w", err)
	}

	// Precedence: defaults -> roxy.json -> environment variable overrides
	c := Defaults(dataPath)
	settingsPath := filepath.Join(dataPath, settingsFile)
	found, err := loadJSONConfig(settingsPath, &c)
	if err != nil {
		return AppConfig{}, fmt.Errorf("parse %s: %w", settingsPath, err)
	}
	if !found {
		if err := writeJSON(settingsPath, c, 0o644); err != nil {
			return AppConfig{}, err
		}
	}

	secrets, err := loadSecrets(filepath.Join(dataPath, secretsFile))
	if err != nil {
		return AppConfig{}, err
	}
	c.Secrets = secrets
	c.DataPath = dataPath

	applyEnvOverrides(&c)
	return c, nil
}

// Defaults returns the settings written to roxy.json on first run.
func Defaults(dataPath string) AppConfig {
	return AppConfig{
		DataPath:                 dataPath,
		URL:                      "http://localhost:7227",
		Port:                     7227,
		IsProxied:                true,
		AllowRegistrations:       true,
		DefaultLimitsTotalMB:     50,
		DefaultLimitsCustomURLs:  0,
		URLShortenerKeyLength:    5,
		PasteKeyLength:           5,
		FileKeyLength:            5,
		GlobalRateLimitPerSecond: 1000,
		RateLimitExceptions:      []string{"/favicon.ico", "/assets/"},
		RateLimitStore:           "memory",
		DatabaseURI:              "sqlite://" + filepath.Join(dataPath, "roxy.db"),
		AllowedOrigins:           []string{"*"},
		GinMode:                  "release",
		GinLogPath:               filepath.Join(dataPath, "logs", "gin.log"),
		LogLevel:                 "info",
		LogPath:                  filepath.Join(dataPath, "logs", "roxy.log"),
		LogMaxSizeMB:             100,
		LogMaxBackups:            3,
		LogMaxAgeDays:            7,
	}
}

// FilesPath is where uploaded files are stored.
func (c AppConfig) FilesPath() string {
	return filepath.Join(c.DataPath, "files")
}

// loadJSONConfig overlays keys present in the file onto out. A missing file is
// reported through found=false; only invalid JSON is an error.
func loadJSONConfig(path string, out *AppConfig) (found bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return false, nil
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return true, err
	}

	getString := func(key string, dst *string) {
		if s, ok := raw[key].(string); ok {
			*dst = s
		}
	}
	getInt := func(key string, dst *int) {
		if f, ok := raw[key].(float64); ok {
			*dst = int(f)
		}
	}
	getBool := func(key string, dst *bool) {
		if b, ok := raw[key].(bool); ok {
			*dst = b
		}
	}
	getStringSlice := func(key string, dst *[]string) {
		arr, ok := raw[key].([]any)
		if !ok {
			return
		}
		res := make([]string, 0, len(arr))
		for _, it := range arr {
			if s, ok := it.(string); ok {
				res = append(res, s)
			}
		}
		*dst = res
	}

	getString("url", &out.URL)
	getInt("port", &out.Port)
	getBool("useHttps", &out.UseHTTPS)
	getString("sslCertPath", &out.SSLCertPath)
	getString("sslKeyPath", &out.SSLKeyPath)
	getBool("isProxied", &out.IsProxied)

	getBool("allowRegistrations", &out.AllowRegistrations)
	getInt("defaultLimitsTotalMb", &out.DefaultLimitsTotalMB)
	getInt("defaultLimitsCustomUrls", &out.DefaultLimitsCustomURLs)

	getInt("urlShortenerKeyLength", &out.URLShortenerKeyLength)
	getInt("pasteKeyLength", &out.PasteKeyLength)
	getInt("fileKeyLength", &out.FileKeyLength)

	getInt("globalRateLimitPerSecond", &out.GlobalRateLimitPerSecond)
	getStringSlice("rateLimitExceptions", &out.RateLimitExceptions)
	getString("rateLimitStore", &out.RateLimitStore)

	getString("databaseUri", &out.DatabaseURI)
	getString("redisAddr", &out.RedisAddr)
	getString("redisPassword", &out.RedisPassword)
	getInt("redisDb", &out.RedisDB)
	getString("geoipDbPath", &out.GeoIPDBPath)
	getStringSlice("allowedOrigins", &out.AllowedOrigins)

	getString("ginMode", &out.GinMode)
	getString("ginLogPath", &out.GinLogPath)
	getString("logLevel", &out.LogLevel)
	getString("logPath", &out.LogPath)
	getInt("logMaxSizeMb", &out.LogMaxSizeMB)
	getInt("logMaxBackups", &out.LogMaxBackups)
	getInt("logMaxAgeDays", &out.LogMaxAgeDays)
	getBool("logCompress", &out.LogCompress)

	return true, nil
}

func loadSecrets(path string) (Secrets, error) {
	var s Secrets
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(b, &s); err != nil {
			return Secrets{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return Secrets{}, fmt.Errorf("read %s: %w", path, err)
	}

	changed := false
	for _, field := range []*string{&s.AccessTokenSecret, &s.RefreshTokenSecret} {
		if *field == "" {
			*field = randomSecret()
			changed = true
		}
	}
	if s.AccessTokenTTL == 0 {
		s.AccessTokenTTL = 900
		changed = true
	}
	if s.RefreshTokenTTL == 0 {
		s.RefreshTokenTTL = 2419200
		changed = true
	}
	if changed {
		if err := writeJSON(path, s, 0o600); err != nil {
			return Secrets{}, err
		}
	}
	return s, nil
}

func randomSecret() string {
	b := make([]byte, 64)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("failed to generate secret: %v", err)
	}
	return hex.EncodeToString(b)
}

func writeJSON(path string, v any, perm os.FileMode) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// applyEnvOverrides lets deployments override persisted settings.
func applyEnvOverrides(c *AppConfig) {
	c.URL = getEnv("ROXY_URL", c.URL)
	if v := os.Getenv("ROXY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("ROXY_IS_PROXIED"); v != "" {
		c.IsProxied = parseBool(v, c.IsProxied)
	}
	if v := os.Getenv("ROXY_ALLOW_REGISTRATIONS"); v != "" {
		c.AllowRegistrations = parseBool(v, c.AllowRegistrations)
	}
	c.DatabaseURI = getEnv("ROXY_DATABASE_URI", c.DatabaseURI)
	c.RedisAddr = getEnv("ROXY_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("ROXY_REDIS_PASSWORD", c.RedisPassword)
	c.RateLimitStore = getEnv("ROXY_RATE_LIMIT_STORE", c.RateLimitStore)
	c.GeoIPDBPath = getEnv("ROXY_GEOIP_DB_PATH", c.GeoIPDBPath)
	c.LogLevel = getEnv("ROXY_LOG_LEVEL", c.LogLevel)
	c.GinMode = getEnv("ROXY_GIN_MODE", c.GinMode)
	if v := os.Getenv("ROXY_ALLOWED_ORIGINS"); v != "" {
		var list []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				list = append(list, o)
			}
		}
		c.AllowedOrigins = list
	}
}

func parseBool(v string, def bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
