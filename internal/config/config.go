package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	GPS      GPSConfig      `yaml:"gps"`
	Web      WebConfig      `yaml:"web"`
	TrackLog TrackLogConfig `yaml:"tracklog"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	PPS      PPSConfig      `yaml:"pps"`
	Log      LogConfig      `yaml:"log"`
}

type GPSConfig struct {
	Enable bool `yaml:"enable"`

	// Source selects how NMEA is ingested: "serial" (direct device), "gpsd"
	// (TCP JSON), or "file" (replay a captured log). Empty means "serial".
	Source string `yaml:"source"`

	// Device is the serial device path; empty enables auto-detect.
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`

	GPSDAddr string       `yaml:"gpsd_addr"`
	Replay   ReplayConfig `yaml:"replay"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
	// NMEABuffer is how many raw lines /api/nmea keeps.
	NMEABuffer int `yaml:"nmea_buffer"`
}

type TrackLogConfig struct {
	Enable      bool          `yaml:"enable"`
	Path        string        `yaml:"path"`
	MinInterval time.Duration `yaml:"min_interval"`
}

type MQTTConfig struct {
	Enable   bool          `yaml:"enable"`
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"client_id"`
	Topic    string        `yaml:"topic"`
	Interval time.Duration `yaml:"interval"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
}

type PPSConfig struct {
	Enable bool   `yaml:"enable"`
	Chip   string `yaml:"chip"`
	Line   int    `yaml:"line"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var supportedBauds = map[int]bool{
	4800:   true,
	9600:   true,
	19200:  true,
	38400:  true,
	57600:  true,
	115200: true,
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills defaults and rejects configurations that cannot work.
// It is called by Load and directly by code that builds configs programmatically.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	src := strings.ToLower(strings.TrimSpace(cfg.GPS.Source))
	if src == "" {
		src = "serial"
	}
	switch src {
	case "serial", "gpsd", "file":
	default:
		return fmt.Errorf("gps.source must be serial, gpsd or file (got %q)", cfg.GPS.Source)
	}
	cfg.GPS.Source = src

	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = 9600
	}
	if !supportedBauds[cfg.GPS.Baud] {
		return fmt.Errorf("gps.baud %d is not supported", cfg.GPS.Baud)
	}

	if src == "file" {
		if strings.TrimSpace(cfg.GPS.Replay.Path) == "" {
			return fmt.Errorf("gps.replay.path is required when gps.source is file")
		}
		if cfg.GPS.Replay.Speed == 0 {
			cfg.GPS.Replay.Speed = 1
		}
		if cfg.GPS.Replay.Speed < 0 {
			return fmt.Errorf("gps.replay.speed must be > 0")
		}
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.Web.NMEABuffer < 0 {
		return fmt.Errorf("web.nmea_buffer must be >= 0")
	}
	if cfg.Web.NMEABuffer == 0 {
		cfg.Web.NMEABuffer = 2000
	}

	if cfg.TrackLog.Enable {
		if cfg.TrackLog.Path == "" {
			cfg.TrackLog.Path = "./gpsview.db"
		}
		if cfg.TrackLog.MinInterval < 0 {
			return fmt.Errorf("tracklog.min_interval must be >= 0")
		}
		if cfg.TrackLog.MinInterval == 0 {
			cfg.TrackLog.MinInterval = 1 * time.Second
		}
	}

	if cfg.MQTT.Enable {
		if strings.TrimSpace(cfg.MQTT.Broker) == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "gpsview"
		}
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = "gpsview/fix"
		}
		if cfg.MQTT.Interval <= 0 {
			cfg.MQTT.Interval = 1 * time.Second
		}
	}

	if cfg.PPS.Enable {
		if cfg.PPS.Chip == "" {
			cfg.PPS.Chip = "/dev/gpiochip0"
		}
		if cfg.PPS.Line < 0 {
			return fmt.Errorf("pps.line must be >= 0")
		}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error (got %q)", cfg.Log.Level)
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json (got %q)", cfg.Log.Format)
	}

	return nil
}
