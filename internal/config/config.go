package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	StaticPath    string        `mapstructure:"static_path"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	Secret        string        `mapstructure:"secret"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	ClaimLimit    int           `mapstructure:"claim_limit"`
	ClaimInterval time.Duration `mapstructure:"claim_interval"`
	LogLevel      string        `mapstructure:"log_level"`

	Client    Client    `mapstructure:"client"`
	Recording Recording `mapstructure:"recording"`
}

// Client configures a meeting participant.
type Client struct {
	RelayURL      string        `mapstructure:"relay_url"`
	STUNServers   []string      `mapstructure:"stun_servers"`
	TURNServer    string        `mapstructure:"turn_server"`
	TURNUser      string        `mapstructure:"turn_user"`
	TURNPass      string        `mapstructure:"turn_pass"`
	WireCodec     string        `mapstructure:"wire_codec"`
	HostName      string        `mapstructure:"host_name"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
	AudioFile     string        `mapstructure:"audio_file"`
}

// Recording configures the recorder and the processing backends.
type Recording struct {
	Timeslice     time.Duration `mapstructure:"timeslice"`
	UploadURL     string        `mapstructure:"upload_url"`
	CloudName     string        `mapstructure:"cloud_name"`
	APIKey        string        `mapstructure:"api_key"`
	APISecret     string        `mapstructure:"api_secret"`
	TranscribeURL string        `mapstructure:"transcribe_url"`
	TranscribeKey string        `mapstructure:"transcribe_key"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	PollAttempts  int           `mapstructure:"poll_attempts"`
	SummarizeURL  string        `mapstructure:"summarize_url"`
	SummarizeKey  string        `mapstructure:"summarize_key"`
	BackendURL    string        `mapstructure:"backend_url"`
	ErrorDelay    time.Duration `mapstructure:"error_delay"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "meetsync-dev-secret")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("claim_limit", 20)
	v.SetDefault("claim_interval", "1m")
	v.SetDefault("log_level", "info")

	v.SetDefault("client.relay_url", "ws://localhost:8080/api/relay")
	v.SetDefault("client.stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("client.turn_server", "")
	v.SetDefault("client.turn_user", "")
	v.SetDefault("client.turn_pass", "")
	v.SetDefault("client.wire_codec", "json")
	v.SetDefault("client.host_name", "Host")
	v.SetDefault("client.notify_timeout", "3s")
	v.SetDefault("client.audio_file", "")

	v.SetDefault("recording.timeslice", "1s")
	v.SetDefault("recording.upload_url", "https://api.cloudinary.com/v1_1")
	v.SetDefault("recording.cloud_name", "")
	v.SetDefault("recording.api_key", "")
	v.SetDefault("recording.api_secret", "")
	v.SetDefault("recording.transcribe_url", "https://api.assemblyai.com/v2/transcript")
	v.SetDefault("recording.transcribe_key", "")
	v.SetDefault("recording.poll_interval", "3s")
	v.SetDefault("recording.poll_attempts", 100)
	v.SetDefault("recording.summarize_url", "")
	v.SetDefault("recording.summarize_key", "")
	v.SetDefault("recording.backend_url", "http://localhost:5000")
	v.SetDefault("recording.error_delay", "2s")
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("MEETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}
