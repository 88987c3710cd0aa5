/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string
	InstanceID  string

	// Realtime engine configuration
	SampleRate      int           // frames per second, e.g. 48000
	PeriodFrames    int           // frames per cycle
	SlackFraction   float64       // fraction of the period each client's process callback may take (see SoftDeadline)
	Freewheel       bool          // drive the graph as fast as possible instead of on the hardware clock
	MaxOverrunsLost int           // consecutive overruns before a client is declared ClientLost
	AckTimeout      time.Duration // control-channel ack timeout; loaded from the environment but not read by any component

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Engine leadership (active/standby) configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int

	// External notification fanout
	NotifyEnabled bool
	NATSUrl       string
	NATSSubject   string

	// Network audio driver (RTP bridge standing in for a sound card)
	AudioDriverEnabled bool
	RTPPort            int
	STUNURL            string
	TURNURL            string
	TURNUsername       string
	TURNPassword       string
	SignalingBind      string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"PATCHBAY_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"PATCHBAY_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"PATCHBAY_HTTP_PORT"}, 8080),
		MetricsBind: getEnvAny([]string{"PATCHBAY_METRICS_BIND"}, "127.0.0.1:9000"),
		InstanceID:  getEnvAny([]string{"PATCHBAY_INSTANCE_ID"}, ""),

		SampleRate:      getEnvIntAny([]string{"PATCHBAY_SAMPLE_RATE"}, 48000),
		PeriodFrames:    getEnvIntAny([]string{"PATCHBAY_PERIOD_FRAMES"}, 128),
		SlackFraction:   getEnvFloatAny([]string{"PATCHBAY_SLACK_FRACTION"}, 0.8),
		Freewheel:       getEnvBoolAny([]string{"PATCHBAY_FREEWHEEL"}, false),
		MaxOverrunsLost: getEnvIntAny([]string{"PATCHBAY_MAX_OVERRUNS_LOST"}, 8),
		AckTimeout:      time.Duration(getEnvIntAny([]string{"PATCHBAY_ACK_TIMEOUT_MS"}, 2000)) * time.Millisecond,

		TracingEnabled:    getEnvBoolAny([]string{"PATCHBAY_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"PATCHBAY_OTLP_ENDPOINT"}, "localhost:4318"),
		TracingSampleRate: getEnvFloatAny([]string{"PATCHBAY_TRACING_SAMPLE_RATE"}, 1.0),

		LeaderElectionEnabled: getEnvBoolAny([]string{"PATCHBAY_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"PATCHBAY_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"PATCHBAY_REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"PATCHBAY_REDIS_DB"}, 0),

		NotifyEnabled: getEnvBoolAny([]string{"PATCHBAY_NOTIFY_ENABLED"}, false),
		NATSUrl:       getEnvAny([]string{"PATCHBAY_NATS_URL"}, "nats://127.0.0.1:4222"),
		NATSSubject:   getEnvAny([]string{"PATCHBAY_NATS_SUBJECT"}, "patchbay.events"),

		AudioDriverEnabled: getEnvBoolAny([]string{"PATCHBAY_AUDIODRIVER_ENABLED"}, false),
		RTPPort:            getEnvIntAny([]string{"PATCHBAY_RTP_PORT"}, 5004),
		STUNURL:            getEnvAny([]string{"PATCHBAY_STUN_URL"}, "stun:stun.l.google.com:19302"),
		TURNURL:            getEnvAny([]string{"PATCHBAY_TURN_URL"}, ""),
		TURNUsername:       getEnvAny([]string{"PATCHBAY_TURN_USERNAME"}, ""),
		TURNPassword:       getEnvAny([]string{"PATCHBAY_TURN_PASSWORD"}, ""),
		SignalingBind:      getEnvAny([]string{"PATCHBAY_SIGNALING_BIND"}, "0.0.0.0:9100"),
	}

	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("PATCHBAY_SAMPLE_RATE must be positive")
	}
	if cfg.PeriodFrames <= 0 {
		return nil, fmt.Errorf("PATCHBAY_PERIOD_FRAMES must be positive")
	}
	if cfg.SlackFraction <= 0 || cfg.SlackFraction > 1 {
		return nil, fmt.Errorf("PATCHBAY_SLACK_FRACTION must be in (0, 1]")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.TURNURL != "" && (cfg.TURNUsername == "" || cfg.TURNPassword == "") {
			return nil, fmt.Errorf("PATCHBAY_TURN_USERNAME and PATCHBAY_TURN_PASSWORD are required when TURN is enabled in production")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// PeriodDuration returns the wall-clock length of one hardware period.
func (c *Config) PeriodDuration() time.Duration {
	return time.Duration(c.PeriodFrames) * time.Second / time.Duration(c.SampleRate)
}

// SoftDeadline returns the per-client soft deadline derived from the slack fraction.
func (c *Config) SoftDeadline() time.Duration {
	return time.Duration(float64(c.PeriodDuration()) * c.SlackFraction)
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"GRIMNIR_ENV":      "use PATCHBAY_ENV",
		"RLM_ENV":          "use PATCHBAY_ENV",
		"GRIMNIR_HTTP_BIND": "use PATCHBAY_HTTP_BIND",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
