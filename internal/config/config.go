package config

import (
	"log"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the application configuration.
// Tags correspond to the keys in the YAML file.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Log         LogConfig         `koanf:"log"`
	DB          DBConfig          `koanf:"db"`
	Ledger      LedgerConfig      `koanf:"ledger"`
	Recognition RecognitionConfig `koanf:"recognition"`
	Attendance  AttendanceConfig  `koanf:"attendance"`
	Capture     CaptureConfig     `koanf:"capture"`
	FaceAPI     FaceAPIConfig     `koanf:"face_api"`
	MQTT        MQTTConfig        `koanf:"mqtt"`
	Cleanup     CleanupConfig     `koanf:"cleanup"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string `koanf:"host"`
	Port        int    `koanf:"port"`
	SnapshotDir string `koanf:"snapshot_dir"` // Directory where event snapshots are stored
	SnapshotURL string `koanf:"snapshot_url"` // URL path to serve snapshots from
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `koanf:"level"`
	File  string `koanf:"file"` // Optional path to an additional log file
}

// DBConfig holds database settings.
type DBConfig struct {
	File string `koanf:"file"` // Path to the SQLite database file
}

// LedgerConfig selects and configures the attendance ledger backend.
type LedgerConfig struct {
	Driver string `koanf:"driver"` // "csv" or "sqlite"
	File   string `koanf:"file"`   // CSV file path (csv driver only)
}

// RecognitionConfig holds the recognition decision thresholds.
type RecognitionConfig struct {
	// Threshold is the minimum similarity (0-1) for an observation to count
	// as a recognized identity. Higher means stricter.
	Threshold float64 `koanf:"threshold"`
}

// AttendanceConfig holds the decision engine settings.
type AttendanceConfig struct {
	// CooldownSeconds suppresses repeat events for the same identity within
	// this window after a committed transition.
	CooldownSeconds int `koanf:"cooldown_seconds"`
}

// CaptureConfig holds frame capture settings.
type CaptureConfig struct {
	Enabled   bool `koanf:"enabled"`    // Run the local webcam capture loop
	DeviceID  int  `koanf:"device_id"`  // OpenCV capture device index
	FrameSkip int  `koanf:"frame_skip"` // Run recognition on every Nth frame
}

// FaceAPIConfig holds settings for the external detector/embedder service.
type FaceAPIConfig struct {
	URL            string `koanf:"url"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
	// DetProbThreshold is the minimum detection probability for a face box
	// to be returned by the service at all.
	DetProbThreshold float64 `koanf:"det_prob_threshold"`
}

// MQTTConfig holds settings for the MQTT client connection.
type MQTTConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Broker      string `koanf:"broker"`
	Port        int    `koanf:"port"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	ClientID    string `koanf:"client_id"`
	TopicPrefix string `koanf:"topic_prefix"` // Events go to <prefix>/attendance/<name>
}

// CleanupConfig holds settings for automatic snapshot cleanup. The attendance
// ledger itself is append-only and never pruned.
type CleanupConfig struct {
	RetentionDays int `koanf:"retention_days"`
}

// configSections are the top-level keys an environment variable may address.
// Section names can themselves contain underscores (face_api), so env keys
// are split against this list rather than on the first underscore.
var configSections = []string{
	"server", "log", "db", "ledger", "recognition", "attendance",
	"capture", "face_api", "mqtt", "cleanup",
}

// envKeyToPath maps TIMEKEEPER_FACE_API_URL to "face_api.url",
// TIMEKEEPER_ATTENDANCE_COOLDOWN_SECONDS to "attendance.cooldown_seconds" etc.
func envKeyToPath(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, "TIMEKEEPER_"))
	for _, section := range configSections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// Load reads configuration from the YAML file and TIMEKEEPER_* environment
// variables, then applies defaults for any field still zero-valued.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	log.Printf("Loading configuration from %s...\n", configPath)
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		log.Printf("Warning: Failed to load configuration file '%s': %v\n", configPath, err)
		// Continue even if file loading fails; env vars and defaults still apply
	}

	// Environment overrides: TIMEKEEPER_ATTENDANCE_COOLDOWN_SECONDS=10 etc.
	if err := k.Load(env.Provider("TIMEKEEPER_", ".", envKeyToPath), nil); err != nil {
		log.Printf("Warning: Failed to load environment variables: %v\n", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		log.Printf("Warning: Failed to unmarshal config structure: %v\n", err)
	}

	// --- Apply defaults selectively ONLY if fields are still zero-valued ---
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.SnapshotDir == "" {
		cfg.Server.SnapshotDir = "/data/snapshots"
	}
	if cfg.Server.SnapshotURL == "" {
		cfg.Server.SnapshotURL = "/snapshots"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.DB.File == "" {
		cfg.DB.File = "/data/timekeeper.db"
	}
	if cfg.Ledger.Driver == "" {
		cfg.Ledger.Driver = "csv"
	}
	if cfg.Ledger.File == "" {
		cfg.Ledger.File = "/data/attendance.csv"
	}
	if cfg.Recognition.Threshold == 0 {
		cfg.Recognition.Threshold = 0.6
	}
	if cfg.Attendance.CooldownSeconds == 0 {
		cfg.Attendance.CooldownSeconds = 5
	}
	if cfg.Capture.FrameSkip == 0 {
		cfg.Capture.FrameSkip = 5
	}
	if cfg.FaceAPI.URL == "" {
		cfg.FaceAPI.URL = "http://localhost:18081"
	}
	if cfg.FaceAPI.TimeoutSeconds == 0 {
		cfg.FaceAPI.TimeoutSeconds = 30
	}
	if cfg.FaceAPI.DetProbThreshold == 0 {
		cfg.FaceAPI.DetProbThreshold = 0.8
	}
	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = "localhost"
	}
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "timekeeper-go"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "timekeeper"
	}
	if cfg.Cleanup.RetentionDays == 0 {
		cfg.Cleanup.RetentionDays = 30
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	log.Println("Configuration loaded successfully.")
	return &cfg, nil
}
