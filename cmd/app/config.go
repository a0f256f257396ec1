package app

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/Agrid-Dev/easycontrols/internal/bridge"
	"github.com/Agrid-Dev/easycontrols/internal/logging"
	"github.com/Agrid-Dev/easycontrols/internal/modbusclient"
	"github.com/Agrid-Dev/easycontrols/internal/party"
)

// EnvPrefix marks the environment variables that override the file.
const EnvPrefix = "EASYCONTROLS_"

type Config struct {
	DeviceID    string         `koanf:"device_id"`
	Device      DeviceConfig   `koanf:"device"`
	Party       PartyConfig    `koanf:"party"`
	Log         logging.Config `koanf:"log"`
	Controllers struct {
		HTTP HTTPConfig `koanf:"http"`
		MQTT MQTTConfig `koanf:"mqtt"`
	} `koanf:"controllers"`
}

type DeviceConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	UnitID       byte          `koanf:"unit_id"`
	Timeout      time.Duration `koanf:"timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
	MaxAttempts  int           `koanf:"max_attempts"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

type PartyConfig struct {
	DefaultDuration time.Duration `koanf:"default_duration"`
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type MQTTConfig struct {
	Enabled         bool          `koanf:"enabled"`
	BrokerURL       string        `koanf:"broker_url"`
	ClientID        string        `koanf:"client_id"`
	BaseTopic       string        `koanf:"base_topic"`
	QoS             byte          `koanf:"qos"`
	RetainSnapshot  bool          `koanf:"retain_snapshot"`
	PublishInterval time.Duration `koanf:"publish_interval"`
	CommandTimeout  time.Duration `koanf:"command_timeout"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
}

// Defaults is the configuration before any file or environment is applied.
func Defaults() Config {
	var cfg Config
	cfg.DeviceID = "default"
	cfg.Device = DeviceConfig{
		Port:         502,
		UnitID:       modbusclient.DefaultUnitID,
		Timeout:      10 * time.Second,
		IdleTimeout:  60 * time.Second,
		MaxAttempts:  3,
		PollInterval: bridge.DefaultPollInterval,
	}
	cfg.Party.DefaultDuration = party.DefaultDuration
	cfg.Log = logging.Config{Level: "info", Format: "json"}
	cfg.Controllers.HTTP = HTTPConfig{Enabled: true, Addr: ":8080"}
	cfg.Controllers.MQTT = MQTTConfig{
		BrokerURL:       "tcp://localhost:1883",
		RetainSnapshot:  true,
		PublishInterval: 5 * time.Second,
		CommandTimeout:  30 * time.Second,
	}
	return cfg
}

// Load layers the defaults, the file at path and the EASYCONTROLS_
// environment. A missing file leaves the defaults in place.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return Config{}, err
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKeyTransform(strings.TrimPrefix(key, EnvPrefix)), value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Config file missing → use defaults
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var parser koanf.Parser
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config extension %q", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

var (
	topLevelKeys = map[string]bool{"device_id": true}
	sections     = []string{"device", "party", "log"}
)

// envKeyTransform maps an unprefixed environment name onto a config key:
// CONTROLLERS_HTTP_ADDR becomes controllers.http.addr and
// DEVICE_POLL_INTERVAL becomes device.poll_interval.
func envKeyTransform(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || topLevelKeys[s] {
		return s
	}

	if rest, ok := strings.CutPrefix(s, "controllers_"); ok {
		ctrl, field, ok := strings.Cut(rest, "_")
		if !ok {
			return s
		}
		return "controllers." + ctrl + "." + field
	}

	for _, sec := range sections {
		if rest, ok := strings.CutPrefix(s, sec+"_"); ok && rest != "" {
			return sec + "." + rest
		}
	}
	return s
}

func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.DeviceID) == "" {
		add("device_id is required")
	}
	if strings.TrimSpace(c.Device.Host) == "" {
		add("device.host is required")
	}
	if c.Device.Port < 1 || c.Device.Port > 65535 {
		add("device.port %d out of range", c.Device.Port)
	}
	if c.Device.UnitID == 0 || c.Device.UnitID > 247 {
		add("device.unit_id %d out of range 1..247", c.Device.UnitID)
	}
	if c.Device.Timeout <= 0 {
		add("device.timeout must be positive")
	}
	if c.Device.MaxAttempts < 1 {
		add("device.max_attempts must be at least 1")
	}
	if c.Device.PollInterval < time.Second {
		add("device.poll_interval must be at least 1s, got %s", c.Device.PollInterval)
	}
	if err := party.ValidateDuration(c.Party.DefaultDuration); err != nil {
		add("party.default_duration: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}

	http, mqtt := c.Controllers.HTTP, c.Controllers.MQTT
	if http.Enabled && http.Addr == "" {
		add("controllers.http.addr is required")
	}
	if mqtt.Enabled && mqtt.BrokerURL == "" {
		add("controllers.mqtt.broker_url is required")
	}
	if mqtt.QoS > 1 {
		add("controllers.mqtt.qos must be 0 or 1")
	}
	return errors.Join(errs...)
}

// DeviceAddr is the host:port of the unit.
func (c Config) DeviceAddr() string {
	return net.JoinHostPort(c.Device.Host, strconv.Itoa(c.Device.Port))
}

func (c Config) ClientConfig() modbusclient.Config {
	return modbusclient.Config{
		Addr:        c.DeviceAddr(),
		UnitID:      c.Device.UnitID,
		Timeout:     c.Device.Timeout,
		IdleTimeout: c.Device.IdleTimeout,
		MaxAttempts: c.Device.MaxAttempts,
	}
}

func (c Config) BridgeConfig() bridge.Config {
	return bridge.Config{
		PollInterval:         c.Device.PollInterval,
		DefaultPartyDuration: c.Party.DefaultDuration,
	}
}
