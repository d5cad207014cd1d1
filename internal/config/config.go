package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"bus-tracker/internal/correlate"
	"bus-tracker/internal/settings"
)

// Sensor names accepted in SENSOR.
const (
	SensorNATS   = "nats"
	SensorGTFSRT = "gtfsrt"
	SensorReplay = "replay"
)

type Config struct {
	APIBaseURL   string
	SettingsFile string
	Settings     settings.Settings
	HTTPTimeout  time.Duration

	DatabaseURL string
	SQLitePath  string

	NATSURL              string
	PositionSubject      string
	DisplaySubjectPrefix string
	LogNATSSubjects      bool

	Sensor              string
	VehiclePositionsURL string
	VehicleID           string
	PollInterval        time.Duration
	SpeedMultiplier     float64
	CorrelationMode     correlate.Mode
	MetricsAddr         string
	APIAddr             string
	Location            *time.Location
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.APIBaseURL = getenvDefault("TRANSIT_API_URL", "https://transit.land/api/v2/rest")
	cfg.SettingsFile = getenvDefault("SETTINGS_FILE", "settings.yaml")

	// Settings file first, environment wins
	fileSettings, err := settings.Load(cfg.SettingsFile)
	if err != nil {
		return nil, err
	}
	cfg.Settings = fileSettings.Merge(settings.Settings{
		APIKey:            firstNonEmpty(os.Getenv("TRANSIT_API_KEY"), os.Getenv("TRANSITLAND_API_KEY")),
		OperatorID:        os.Getenv("OPERATOR_ID"),
		StopDelaySeconds:  os.Getenv("STOP_DELAY_SECONDS"),
		DestinationFilter: os.Getenv("DESTINATION_FILTER"),
	})
	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	if v := os.Getenv("HTTP_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid HTTP_TIMEOUT_MS: %q", v)
		}
		cfg.HTTPTimeout = time.Duration(ms) * time.Millisecond
	} else {
		cfg.HTTPTimeout = 15 * time.Second
	}

	// Journal: SQLITE_DATABASE wins over Postgres; both empty disables it
	cfg.SQLitePath = os.Getenv("SQLITE_DATABASE")
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		if db := os.Getenv("PGDATABASE"); db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.PositionSubject = getenvDefault("POSITION_SUBJECT", "vehicles.>")
	cfg.DisplaySubjectPrefix = getenvDefault("DISPLAY_SUBJECT_PREFIX", "display")
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	cfg.Sensor = strings.ToLower(getenvDefault("SENSOR", SensorNATS))
	switch cfg.Sensor {
	case SensorNATS, SensorReplay:
	case SensorGTFSRT:
		cfg.VehiclePositionsURL = os.Getenv("GTFSRT_VEHICLE_POSITIONS_URL")
		if cfg.VehiclePositionsURL == "" {
			return nil, errors.New("GTFSRT_VEHICLE_POSITIONS_URL must be set when SENSOR=gtfsrt")
		}
	default:
		return nil, fmt.Errorf("invalid SENSOR: %q", cfg.Sensor)
	}
	cfg.VehicleID = os.Getenv("VEHICLE_ID")

	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid POLL_INTERVAL_MS: %q", v)
		}
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.PollInterval = time.Second
	}

	if v := os.Getenv("SPEED_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid SPEED_MULTIPLIER: %q", v)
		}
		cfg.SpeedMultiplier = f
	} else {
		cfg.SpeedMultiplier = 1.0
	}

	cfg.CorrelationMode, err = correlate.ParseMode(os.Getenv("CORRELATION_MODE"))
	if err != nil {
		return nil, err
	}

	// Empty disables the listener
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.APIAddr = getenvDefault("API_ADDR", ":8080")

	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
