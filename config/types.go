package config

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port int `yaml:"port" validate:"gt=0"`
}

// TrackingConfig tunes the ingestion and fan-out paths
type TrackingConfig struct {
	AccuracyCeilingMeters float64 `yaml:"accuracyCeilingMeters" validate:"gte=0"`
	MaxClockSkewSec       int     `yaml:"maxClockSkewSec" validate:"gte=0"`
	DedupWindowSec        int     `yaml:"dedupWindowSec" validate:"gte=0"`
	QueueCapacity         int     `yaml:"queueCapacity" validate:"gte=0"`
	CatchUpLimit          int     `yaml:"catchUpLimit" validate:"gte=0"`
	AckGraceSec           int     `yaml:"ackGraceSec" validate:"gte=0"`
}

// HistoryConfig controls retention and the durable archive
type HistoryConfig struct {
	MaxEventsPerTrack int `yaml:"maxEventsPerTrack" validate:"gte=0"`
	RetentionDays     int `yaml:"retentionDays" validate:"gte=0"`
	// ArchivePath is a SQLite file; empty keeps history in memory only
	ArchivePath string `yaml:"archivePath"`
}

// FeedConfig is an optional NATS feed of courier reports for fleets
// that report through a broker instead of HTTP
type FeedConfig struct {
	NATSURL string `yaml:"natsURL"`
	Subject string `yaml:"subject"`
}

// AppConfig is the root configuration structure
type AppConfig struct {
	Server   ServerConfig   `yaml:"server" validate:"required"`
	Tracking TrackingConfig `yaml:"tracking"`
	History  HistoryConfig  `yaml:"history"`
	Feed     FeedConfig     `yaml:"feed"`
}
