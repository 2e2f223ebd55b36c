package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mbarrena/pulsegate/internal/core/domain"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level

	AWS        AWSConfig        `mapstructure:"aws"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Gesture    GestureConfig    `mapstructure:"gesture"`
	StatusPoll StatusPollConfig `mapstructure:"status_poll"`

	Devices []DeviceConfig `mapstructure:"devices"`
	Users   []UserConfig   `mapstructure:"users"`

	Port    uint `mapstructure:"port"`
	HttpLog bool `mapstructure:"http_log"`
}

type AWSConfig struct {
	AccessKeyId       string `mapstructure:"access_key_id"`
	SecretAccessKey   string `mapstructure:"secret_access_key"`
	SignExpirySeconds uint32 `mapstructure:"sign_expiry_seconds"`
}

type AuthConfig struct {
	SessionSecret string `mapstructure:"session_secret"`
	SessionCookie string `mapstructure:"session_cookie"`
}

type GestureConfig struct {
	LongPressThresholdMillis uint32 `mapstructure:"long_press_threshold_millis"`
	MinPulseMillis           uint32 `mapstructure:"min_pulse_millis"`
}

type StatusPollConfig struct {
	IntervalMillis uint32 `mapstructure:"interval_millis"`
}

type DeviceConfig struct {
	Id              string           `mapstructure:"id"`
	Name            string           `mapstructure:"name"`
	Type            string           `mapstructure:"type"`
	MQTT            DeviceMQTTConfig `mapstructure:"mqtt"`
	PulseDurationMs uint32           `mapstructure:"pulse_duration_ms"`
}

type DeviceMQTTConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Region      string `mapstructure:"region"`
	CmdTopic    string `mapstructure:"cmd_topic"`
	AckTopic    string `mapstructure:"ack_topic"`
	StatusTopic string `mapstructure:"status_topic"`
}

type UserConfig struct {
	Id           string   `mapstructure:"id"`
	DeviceAccess []string `mapstructure:"device_access"`
}

// CheckMQTTTopic validates a full topic path: slash-separated segments
// of letters, numbers and underscores. Returns the lowercased topic.
func CheckMQTTTopic(topic string) (string, error) {
	lowerTopic := strings.ToLower(topic)
	topicRegexp := regexp.MustCompile(`^[a-z0-9_]+(/[a-z0-9_]+)*$`)
	if !topicRegexp.MatchString(lowerTopic) {
		return "", errors.New("invalid topic. segments can only contain letters, numbers and underscores")
	}
	return lowerTopic, nil
}

// Validate checks bounds and shapes after viper unmarshal and fixes
// topic casing in place.
func (cfg *Config) Validate() error {
	if cfg.Gesture.LongPressThresholdMillis < 50 {
		return errors.New("config param gesture.long_press_threshold_millis should be >= 50ms")
	}
	if cfg.Gesture.MinPulseMillis == 0 {
		return errors.New("config param gesture.min_pulse_millis should be > 0")
	}
	if cfg.AWS.SignExpirySeconds == 0 {
		return errors.New("config param aws.sign_expiry_seconds should be > 0")
	}
	if cfg.Auth.SessionSecret == "" {
		return errors.New("config param auth.session_secret is required")
	}

	seenDevices := map[string]bool{}
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if d.Id == "" {
			return errors.New("config param devices[].id is required")
		}
		if seenDevices[d.Id] {
			return fmt.Errorf("duplicate device id %q", d.Id)
		}
		seenDevices[d.Id] = true
		if _, err := domain.ParseDeviceType(d.Type); err != nil {
			return fmt.Errorf("device %q: %w", d.Id, err)
		}
		cmdTopic, err := CheckMQTTTopic(d.MQTT.CmdTopic)
		if err != nil {
			return fmt.Errorf("device %q cmd_topic: %w", d.Id, err)
		}
		d.MQTT.CmdTopic = cmdTopic
		ackTopic, err := CheckMQTTTopic(d.MQTT.AckTopic)
		if err != nil {
			return fmt.Errorf("device %q ack_topic: %w", d.Id, err)
		}
		d.MQTT.AckTopic = ackTopic
		if d.MQTT.StatusTopic != "" {
			statusTopic, err := CheckMQTTTopic(d.MQTT.StatusTopic)
			if err != nil {
				return fmt.Errorf("device %q status_topic: %w", d.Id, err)
			}
			d.MQTT.StatusTopic = statusTopic
		}
	}

	seenUsers := map[string]bool{}
	for _, u := range cfg.Users {
		if u.Id == "" {
			return errors.New("config param users[].id is required")
		}
		if seenUsers[u.Id] {
			return fmt.Errorf("duplicate user id %q", u.Id)
		}
		seenUsers[u.Id] = true
	}

	return nil
}

// DomainDevices maps the config records to immutable domain devices.
func (cfg *Config) DomainDevices() []domain.Device {
	devices := make([]domain.Device, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		deviceType, _ := domain.ParseDeviceType(d.Type)
		devices = append(devices, domain.Device{
			Id:   d.Id,
			Name: d.Name,
			Type: deviceType,
			MQTT: domain.BrokerConfig{
				Endpoint:    d.MQTT.Endpoint,
				Region:      d.MQTT.Region,
				CmdTopic:    d.MQTT.CmdTopic,
				AckTopic:    d.MQTT.AckTopic,
				StatusTopic: d.MQTT.StatusTopic,
			},
			PulseDurationMillis: d.PulseDurationMs,
		})
	}
	return devices
}

func (cfg *Config) DomainUsers() []domain.User {
	users := make([]domain.User, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		users = append(users, domain.User{
			Id:           u.Id,
			DeviceAccess: u.DeviceAccess,
		})
	}
	return users
}
