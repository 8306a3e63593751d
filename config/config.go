package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/farellandr/gigboard/internal/calendar"
	"github.com/farellandr/gigboard/internal/models"
)

type Config struct {
	Port string `yaml:"port"`

	DBDriver   string `yaml:"db_driver"`
	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	DBPath     string `yaml:"db_path"`

	// Region is the IANA zone every date key is computed in.
	Region             string        `yaml:"region"`
	DisplayDays        int           `yaml:"display_days"`
	OverrideBufferDays int           `yaml:"override_buffer_days"`
	OccurrenceCap      int           `yaml:"occurrence_cap"`
	LockTimeout        time.Duration `yaml:"lock_timeout"`

	RedisURL     string   `yaml:"redis_url"`
	RedisChannel string   `yaml:"redis_channel"`
	JWTSecret    string   `yaml:"jwt_secret"`
	AuditCron    string   `yaml:"audit_cron"`
	CORSOrigins  []string `yaml:"cors_origins"`
	LogLevel     string   `yaml:"log_level"`
	PublicURL    string   `yaml:"public_url"`

	SeedCategories []string `yaml:"seed_categories"`
}

func DefaultConfig() *Config {
	return &Config{
		Port:               "8080",
		DBDriver:           "postgres",
		DBPort:             "5432",
		DBPath:             "gigboard.db",
		Region:             "America/Chicago",
		DisplayDays:        30,
		OverrideBufferDays: 30,
		OccurrenceCap:      2000,
		LockTimeout:        5 * time.Second,
		AuditCron:          "15 3 * * *",
		CORSOrigins:        []string{"*"},
		LogLevel:           "info",
		SeedCategories:     []string{"music", "open mic", "workshop", "community"},
	}
}

// LoadConfig reads the optional YAML file named by CONFIG_FILE and then
// applies environment variables on top of it.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s does not exist", path)
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"PORT":          &cfg.Port,
		"DB_DRIVER":     &cfg.DBDriver,
		"DB_HOST":       &cfg.DBHost,
		"DB_PORT":       &cfg.DBPort,
		"DB_USER":       &cfg.DBUser,
		"DB_PASSWORD":   &cfg.DBPassword,
		"DB_NAME":       &cfg.DBName,
		"DB_PATH":       &cfg.DBPath,
		"REGION":        &cfg.Region,
		"REDIS_URL":     &cfg.RedisURL,
		"REDIS_CHANNEL": &cfg.RedisChannel,
		"JWT_SECRET":    &cfg.JWTSecret,
		"AUDIT_CRON":    &cfg.AuditCron,
		"LOG_LEVEL":     &cfg.LogLevel,
		"PUBLIC_URL":    &cfg.PublicURL,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DISPLAY_DAYS":         &cfg.DisplayDays,
		"OVERRIDE_BUFFER_DAYS": &cfg.OverrideBufferDays,
		"OCCURRENCE_CAP":       &cfg.OccurrenceCap,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", key, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv("LOCK_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("LOCK_TIMEOUT must be a duration: %w", err)
		}
		cfg.LockTimeout = d
	}
	if v, ok := os.LookupEnv("CORS_ORIGINS"); ok {
		cfg.CORSOrigins = splitList(v)
	}
	return nil
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Port == "" {
		c.Port = def.Port
	}
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	if c.DBDriver == "" {
		c.DBDriver = def.DBDriver
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.Region == "" {
		c.Region = def.Region
	}
	if c.DisplayDays <= 0 {
		c.DisplayDays = def.DisplayDays
	}
	if c.OverrideBufferDays < 0 {
		c.OverrideBufferDays = 0
	}
	if c.OccurrenceCap <= 0 {
		c.OccurrenceCap = def.OccurrenceCap
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = def.LockTimeout
	}
	if c.AuditCron == "" {
		c.AuditCron = def.AuditCron
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = def.CORSOrigins
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if _, err := calendar.NewRegion(c.Region, nil); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(c.AuditCron); err != nil {
		return fmt.Errorf("invalid AUDIT_CRON %q: %w", c.AuditCron, err)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func enableUUIDExtension(db *gorm.DB) error {
	return db.Exec("CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\"").Error
}

func InitDatabase(cfg *Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DBPath)
	default:
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort,
		)
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if cfg.DBDriver == "postgres" {
		if err := enableUUIDExtension(db); err != nil {
			return nil, err
		}
	} else {
		// SQLite allows one writer; a single connection keeps transactions
		// from failing with SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, err
	}

	if err := seedCategories(db, cfg.SeedCategories); err != nil {
		return nil, err
	}

	return db, nil
}

func seedCategories(db *gorm.DB, names []string) error {
	for _, name := range names {
		var existing models.Category
		result := db.Where("name = ?", name).Limit(1).Find(&existing)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			if err := db.Create(&models.Category{Name: name}).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
