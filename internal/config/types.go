package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig        `json:"server"`
	Upload    UploadConfig        `json:"upload"`
	Optimizer OptimizerConfig     `json:"optimizer"`
	FFmpeg    FFmpegConfig        `json:"ffmpeg"`
	Database  Database            `json:"database"`
	Redis     RedisConfig         `json:"redis"`
	R2        R2Config            `json:"r2"`
	Preview   PreviewWorkerConfig `json:"preview_worker"`
	Sentry    SentryConfig        `json:"sentry"`
}

type ServerConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// UploadConfig is the batch policy for the feed-post attachment surface.
type UploadConfig struct {
	MaxRequestBodyMB     int64 `json:"max_request_body"`
	MaxMultipartMemoryMB int64 `json:"max_multipart_memory"`
	MaxAttachments       int   `json:"max_attachments"`       // slots per post
	MaxRawFileBytes      int64 `json:"max_raw_file_bytes"`    // raw size ceiling, pre-optimization
	PerFileBudgetBytes   int64 `json:"per_file_budget_bytes"` // post-optimization hard budget
}

// OptimizerConfig hoists every tuning knob of the codec stages so the search
// algorithms can be tuned without touching them.
type OptimizerConfig struct {
	Image ImageTuning `json:"image"`
	Video VideoTuning `json:"video"`
}

type ImageTuning struct {
	MaxWidth     int      `json:"max_width"`
	MaxHeight    int      `json:"max_height"`
	Quality      float64  `json:"quality"`       // 0..1 starting point
	QualityStep  float64  `json:"quality_step"`  // fixed decrement while over budget
	QualityFloor float64  `json:"quality_floor"` // never encode below this
	MaxAttempts  int      `json:"max_attempts"`  // shrink-and-encode rounds
	ShrinkFactor float64  `json:"shrink_factor"` // scale multiplier per round
	Formats      []string `json:"formats"`       // candidate output encodings, in order
}

type VideoTuning struct {
	MaxWidth        int     `json:"max_width"`
	MaxHeight       int     `json:"max_height"`
	CRF             int     `json:"crf"`
	Preset          string  `json:"preset"`
	FPS             float64 `json:"fps"`
	VideoBitrate    int     `json:"video_bitrate_kbps"` // 0 = derive from budget / CRF
	AudioBitrate    int     `json:"audio_bitrate_kbps"`
	Attempts        int     `json:"attempts"`
	SafetyFactor    float64 `json:"safety_factor"`
	MinVideoBitrate int     `json:"min_video_bitrate_kbps"`
	MinAudioBitrate int     `json:"min_audio_bitrate_kbps"`
	BPPFloor        float64 `json:"bpp_floor"`
	OvershootMin    float64 `json:"overshoot_min"`
	OvershootMax    float64 `json:"overshoot_max"`
	LowFPS          float64 `json:"low_fps"`
	DefaultDuration float64 `json:"default_duration_sec"`
}

type FFmpegConfig struct {
	FFmpegPath  string `json:"ffmpeg_path"`  // "" = look up in PATH
	FFprobePath string `json:"ffprobe_path"` // "" = look up in PATH
	ScratchDir  string `json:"scratch_dir"`  // "" = os temp dir
}

type Database struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	Password            string        `json:"password"`
	DatabaseID          int           `json:"database_id"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	DialTimeout         time.Duration `json:"dial_timeout"`
	ReadTimeout         time.Duration `json:"read_timeout"`
	WriteTimeout        time.Duration `json:"write_timeout"`
	PoolSize            int           `json:"pool_size"`
	Nodes               []RedisNode   `json:"nodes"`
}

type RedisNode struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (n RedisNode) Addr() string { return fmt.Sprintf("%s:%d", n.Host, n.Port) }

type R2Config struct {
	AccountID   string `json:"account_id"`
	BucketName  string `json:"bucket_name"`
	AccessKeyID string `json:"access_key_id"`
	SecretKey   string `json:"secret_key"`
	Endpoint    string `json:"endpoint"`
	PublicBase  string `json:"public_base"` // public URL prefix for served objects
}

type PreviewWorkerConfig struct {
	Stream       string        `json:"stream"`        // redis stream name
	Group        string        `json:"group"`         // consumer group name
	Workers      int           `json:"workers"`       // number of concurrent goroutines
	MaxAttempts  int           `json:"max_attempts"`  // max retries before giving up
	MaxLen       int64         `json:"max_len"`       // stream max length before trim
	BackoffBase  time.Duration `json:"backoff_base"`  // base retry delay
	BlockTimeout time.Duration `json:"block_timeout"` // XREADGROUP block timeout
	Consumer     string        `json:"consumer"`
	MaxEdge      int           `json:"max_edge"` // preview rendition bounding box
}

type SentryConfig struct {
	SentryDSN   string `json:"sentry_dsn"`
	Environment string `json:"environment"`
}
