package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	SensorReal       = "real"
	SensorSimulation = "simulation"

	OutputInflux   = "influx"
	OutputConsole  = "console"
	OutputMQTT     = "mqtt"
	OutputNATS     = "nats"
	OutputTextfile = "textfile"

	// DefaultI2CAddress is the fixed SFA3x bus address.
	DefaultI2CAddress = 0x5D

	envPrefix = "SFA3X"
)

type InfluxConfig struct {
	URL       string `json:"url" mapstructure:"url"`
	Org       string `json:"org" mapstructure:"org"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	Token     string `json:"token" mapstructure:"token"`
	TimeoutMs int    `json:"timeout_ms" mapstructure:"timeout_ms"`
}

type MQTTConfig struct {
	Server          string `json:"server" mapstructure:"server"`
	Username        string `json:"username" mapstructure:"username"`
	Password        string `json:"password" mapstructure:"password"`
	ClientID        string `json:"client_id" mapstructure:"client_id"`
	Topic           string `json:"topic" mapstructure:"topic"`
	DiscoveryPrefix string `json:"discovery_prefix" mapstructure:"discovery_prefix"`
}

type NATSConfig struct {
	URL     string `json:"url" mapstructure:"url"`
	Subject string `json:"subject" mapstructure:"subject"`
}

type TextfileConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

type Config struct {
	I2CBus      string         `json:"i2c_bus" mapstructure:"i2c_bus"`
	I2CAddress  int            `json:"i2c_address" mapstructure:"i2c_address"`
	SensorType  string         `json:"sensor_type" mapstructure:"sensor_type"`
	SettleMs    int            `json:"settle_ms" mapstructure:"settle_ms"`
	Outputs     []string       `json:"outputs" mapstructure:"outputs"`
	Measurement string         `json:"measurement" mapstructure:"measurement"`
	SensorID    string         `json:"sensor_id" mapstructure:"sensor_id"`
	LogLevel    string         `json:"log_level" mapstructure:"log_level"`
	Influx      InfluxConfig   `json:"influx" mapstructure:"influx"`
	MQTT        MQTTConfig     `json:"mqtt" mapstructure:"mqtt"`
	NATS        NATSConfig     `json:"nats" mapstructure:"nats"`
	Textfile    TextfileConfig `json:"textfile" mapstructure:"textfile"`
}

func DefaultConfig() Config {
	return Config{
		I2CBus:      "1",
		I2CAddress:  DefaultI2CAddress,
		SensorType:  SensorReal,
		SettleMs:    500,
		Outputs:     []string{OutputInflux},
		Measurement: "hchoSensor",
		SensorID:    "iotSFA",
		LogLevel:    "info",
		Influx: InfluxConfig{
			URL:       "http://localhost:8086",
			Org:       "UCO",
			Bucket:    "DatosSensores",
			TimeoutMs: 5000,
		},
		MQTT: MQTTConfig{
			Server:   "tcp://localhost:1883",
			ClientID: "sfa3x-client",
			Topic:    "sfa3x/state",
		},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "sensors.sfa3x",
		},
		Textfile: TextfileConfig{
			Path: "/var/lib/node_exporter/textfile_collector/sfa3x.prom",
		},
	}
}

// setDefaults registers every DefaultConfig value with viper so that config
// file keys and SFA3X_* environment variables can override any of them.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("i2c_bus", d.I2CBus)
	v.SetDefault("i2c_address", d.I2CAddress)
	v.SetDefault("sensor_type", d.SensorType)
	v.SetDefault("settle_ms", d.SettleMs)
	v.SetDefault("outputs", d.Outputs)
	v.SetDefault("measurement", d.Measurement)
	v.SetDefault("sensor_id", d.SensorID)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("influx.url", d.Influx.URL)
	v.SetDefault("influx.org", d.Influx.Org)
	v.SetDefault("influx.bucket", d.Influx.Bucket)
	v.SetDefault("influx.token", d.Influx.Token)
	v.SetDefault("influx.timeout_ms", d.Influx.TimeoutMs)
	v.SetDefault("mqtt.server", d.MQTT.Server)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.topic", d.MQTT.Topic)
	v.SetDefault("mqtt.discovery_prefix", d.MQTT.DiscoveryPrefix)
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.subject", d.NATS.Subject)
	v.SetDefault("textfile.path", d.Textfile.Path)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// INFLUX_TOKEN is what the influx CLI uses; accept it as well
	_ = v.BindEnv("influx.token", envPrefix+"_INFLUX_TOKEN", "INFLUX_TOKEN")
	setDefaults(v)
	return v
}

// LoadFromFlags loads configuration from the process command line.
func LoadFromFlags() (Config, error) {
	return Load(os.Args[1:])
}

// Load builds the configuration from defaults, an optional config file
// (JSON or YAML), SFA3X_* environment variables and finally the flags in
// args. Later sources override earlier ones.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("sfa3x-to-influx", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to JSON or YAML config file")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus (e.g., '1' -> /dev/i2c-1)")
	flagI2CAddStr := fs.String("i2c-address", "", "I2C address (decimal or 0x hex)")
	flagSensorType := fs.String("sensor-type", "", "sensor type: real|simulation")
	flagSettle := fs.Int("settle-ms", -1, "Wait between start and read in ms")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (influx,console,mqtt,nats,textfile)")
	flagMeasurement := fs.String("measurement", "", "Line protocol measurement name")
	flagSensorID := fs.String("sensor-id", "", "Value of the sensor_id tag")
	flagLogLevel := fs.String("log-level", "", "Log level (debug,info,warn,error)")
	flagInfluxURL := fs.String("influx-url", "", "InfluxDB base URL")
	flagInfluxOrg := fs.String("influx-org", "", "InfluxDB organization")
	flagInfluxBucket := fs.String("influx-bucket", "", "InfluxDB bucket")
	flagInfluxToken := fs.String("influx-token", "", "InfluxDB API token")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT state topic")
	flagNATSURL := fs.String("nats-url", "", "NATS server URL")
	flagNATSSubject := fs.String("nats-subject", "", "NATS subject")
	flagTextfile := fs.String("textfile-path", "", "Prometheus textfile collector output file")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := newViper()
	if *cfgPath != "" {
		v.SetConfigFile(*cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if *flagI2CBus != "" {
		cfg.I2CBus = *flagI2CBus
	}
	if *flagI2CAddStr != "" {
		a, err := parseIntOrHex(*flagI2CAddStr)
		if err != nil {
			return cfg, fmt.Errorf("i2c-address: %w", err)
		}
		cfg.I2CAddress = a
	}
	if *flagSensorType != "" {
		cfg.SensorType = *flagSensorType
	}
	if *flagSettle != -1 {
		cfg.SettleMs = *flagSettle
	}
	if *flagOutputs != "" {
		cfg.Outputs = parseCSV(*flagOutputs)
	}
	setIf(&cfg.Measurement, *flagMeasurement)
	setIf(&cfg.SensorID, *flagSensorID)
	setIf(&cfg.LogLevel, *flagLogLevel)
	setIf(&cfg.Influx.URL, *flagInfluxURL)
	setIf(&cfg.Influx.Org, *flagInfluxOrg)
	setIf(&cfg.Influx.Bucket, *flagInfluxBucket)
	setIf(&cfg.Influx.Token, *flagInfluxToken)
	setIf(&cfg.MQTT.Server, *flagMQTTServer)
	setIf(&cfg.MQTT.Username, *flagMQTTUser)
	setIf(&cfg.MQTT.Password, *flagMQTTPass)
	setIf(&cfg.MQTT.ClientID, *flagClientID)
	setIf(&cfg.MQTT.Topic, *flagTopic)
	setIf(&cfg.NATS.URL, *flagNATSURL)
	setIf(&cfg.NATS.Subject, *flagNATSSubject)
	setIf(&cfg.Textfile.Path, *flagTextfile)

	for i := range cfg.Outputs {
		cfg.Outputs[i] = strings.ToLower(strings.TrimSpace(cfg.Outputs[i]))
	}

	return cfg, cfg.Validate()
}

// Validate reports the first setting that would make a run pointless or
// impossible.
func (c Config) Validate() error {
	switch c.SensorType {
	case SensorReal, SensorSimulation:
	default:
		return fmt.Errorf("sensor-type must be %s or %s, got %q", SensorReal, SensorSimulation, c.SensorType)
	}
	if c.I2CAddress < 0 || c.I2CAddress > 0x7f {
		return fmt.Errorf("i2c-address 0x%x out of range", c.I2CAddress)
	}
	if c.SettleMs < 0 {
		return errors.New("settle-ms must be >= 0")
	}
	if c.Measurement == "" {
		return errors.New("measurement must not be empty")
	}
	// line protocol is newline delimited and cannot escape line breaks
	if strings.ContainsAny(c.Measurement, "\r\n") {
		return fmt.Errorf("measurement %q contains a line break", c.Measurement)
	}
	if strings.ContainsAny(c.SensorID, "\r\n") {
		return fmt.Errorf("sensor-id %q contains a line break", c.SensorID)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log-level: %w", err)
	}
	if len(c.Outputs) == 0 {
		return errors.New("at least one output is required")
	}
	for _, o := range c.Outputs {
		switch o {
		case OutputInflux:
			if c.Influx.Org == "" || c.Influx.Bucket == "" {
				return errors.New("influx output needs org and bucket")
			}
			u, err := url.Parse(c.Influx.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("invalid influx url %q", c.Influx.URL)
			}
		case OutputConsole:
		case OutputMQTT:
			if c.MQTT.Server == "" || c.MQTT.Topic == "" {
				return errors.New("mqtt output needs server and topic")
			}
		case OutputNATS:
			if c.NATS.URL == "" || c.NATS.Subject == "" {
				return errors.New("nats output needs url and subject")
			}
		case OutputTextfile:
			if c.Textfile.Path == "" {
				return errors.New("textfile output needs a path")
			}
		default:
			return fmt.Errorf("unknown output %q", o)
		}
	}
	return nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
