package util

import (
	"github.com/mbarrena/pulsegate/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		AWS: config.AWSConfig{
			AccessKeyId:       "AKIDEXAMPLE",
			SecretAccessKey:   "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
			SignExpirySeconds: 300,
		},
		Auth: config.AuthConfig{
			SessionSecret: "test-session-secret",
			SessionCookie: "pulsegate_session",
		},
		Gesture: config.GestureConfig{
			LongPressThresholdMillis: 500,
			MinPulseMillis:           200,
		},
		StatusPoll: config.StatusPollConfig{
			IntervalMillis: 30000,
		},
		Devices: []config.DeviceConfig{
			{
				Id:   "pc-power",
				Name: "PC Power Button",
				Type: "power_button",
				MQTT: config.DeviceMQTTConfig{
					Endpoint:    "example.iot.ap-southeast-1.amazonaws.com",
					Region:      "ap-southeast-1",
					CmdTopic:    "home/pc/cmd",
					AckTopic:    "home/pc/ack",
					StatusTopic: "home/pc/status",
				},
			},
			{
				Id:   "door-lock",
				Name: "Door Lock",
				Type: "lock",
				MQTT: config.DeviceMQTTConfig{
					Endpoint: "example.iot.ap-southeast-1.amazonaws.com",
					Region:   "ap-southeast-1",
					CmdTopic: "home/door/cmd",
					AckTopic: "home/door/ack",
				},
				PulseDurationMs: 1000,
			},
		},
		Users: []config.UserConfig{
			{Id: "family-user", DeviceAccess: []string{"door-lock"}},
			{Id: "personal-user", DeviceAccess: []string{"*"}},
		},
		Port: 8080,
	}
}
