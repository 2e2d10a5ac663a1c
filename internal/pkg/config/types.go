package config

import "time"

type ServerConfig struct {
	AppName         string
	MqttBrokerURL   string
	MqttUser        string
	MqttPassword    string
	TelemetryTopic  string
	RedisURL        string
	RedisTLSURL     string
	PostgresURL     string
	Port            string
	MockMode        bool
	LogFormat       string
	GoogleConfig    GoogleConfig
	DatadogConfig   DatadogConfig
	S3Config        S3Config
	DashboardConfig DashboardConfig
	Version         string
	AllowedAPIKeys  []string
}

type GoogleConfig struct {
	AuthorizedUsers string
	ClientId        string
	ClientSecret    string
	RedirectURL     string
	SessionSecret   string
}

type DatadogConfig struct {
	APIKey string
	APPKey string
}

type S3Config struct {
	AccessKeyID       string
	SecretAccessKey   string
	Region            string
	URL               string
	Bucket            string
	MaxRetentionRows  int
	RetentionEnabled  bool
	FullBackupEnabled bool
}

type DashboardConfig struct {
	HighlightWindow   time.Duration
	HighlightCapacity int
	FeedMaxRecords    int
	TimetblLocation   *time.Location
}
