package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type IPCConfig struct {
	Socket string `yaml:"socket"`
}

type AudioConfig struct {
	SampleRate int     `yaml:"sample_rate"`
	FrameMS    int     `yaml:"frame_ms"`
	SilenceRMS float64 `yaml:"silence_rms"`
	SilenceMS  int     `yaml:"silence_ms"`
	MaxSeconds int     `yaml:"max_seconds"`
	CueFile    string  `yaml:"cue_file"`
	DumpDir    string  `yaml:"dump_dir"`
	Duck       bool    `yaml:"duck"`
	DuckFactor float64 `yaml:"duck_factor"`
	DuckFadeMS int     `yaml:"duck_fade_ms"`
}

type STTConfig struct {
	DefaultAPI      string   `yaml:"default_api"`
	DefaultLanguage string   `yaml:"default_language"`
	Languages       []string `yaml:"languages"`
	TimeoutSeconds  int      `yaml:"timeout_s"`
	Proxy           string   `yaml:"proxy"`
	GoogleURL       string   `yaml:"google_url"`
	GoogleKey       string   `yaml:"google_key"`
	WhisperModel    string   `yaml:"whisper_model"`
	WhisperThreads  int      `yaml:"whisper_threads"`
	WhisperPrompt   string   `yaml:"whisper_prompt"`
	WhisperBeam     int      `yaml:"whisper_beam_size"`
	WhisperTemp     float64  `yaml:"whisper_temperature"`
	OpenAIKey       string   `yaml:"-"`
	OpenAIModel     string   `yaml:"openai_model"`
}

type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type BusConfig struct {
	URL            string `yaml:"url"`
	Subject        string `yaml:"subject"`
	ConnectTimeout int    `yaml:"connect_timeout_ms"`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces"`
}

type Config struct {
	Web       WebConfig       `yaml:"web"`
	IPC       IPCConfig       `yaml:"ipc"`
	Audio     AudioConfig     `yaml:"audio"`
	STT       STTConfig       `yaml:"stt"`
	History   HistoryConfig   `yaml:"history"`
	Bus       BusConfig       `yaml:"bus"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

func Default() Config {
	return Config{
		Web: WebConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8501",
		},
		IPC: IPCConfig{
			Socket: "/tmp/caption.sock",
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			FrameMS:    20,
			SilenceRMS: 0.015,
			SilenceMS:  600,
			MaxSeconds: 10,
			DuckFactor: 0.3,
			DuckFadeMS: 200,
		},
		STT: STTConfig{
			DefaultAPI:      "Google",
			DefaultLanguage: "en-US",
			Languages:       []string{"en-US", "es-ES", "fr-FR", "de-DE", "zh-CN"},
			TimeoutSeconds:  60,
			GoogleURL:       "http://www.google.com/speech-api/v2/recognize",
			OpenAIModel:     "whisper-1",
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          "./data/caption.db",
			RetentionDays: 30,
		},
		Bus: BusConfig{
			Subject:        "caption.transcript",
			ConnectTimeout: 2000,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "caption",
			OTLPInsecure: true,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies CAPTION_*
// environment overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideBool(&cfg.Web.Enabled, "CAPTION_WEB_ENABLED")
	overrideString(&cfg.Web.Addr, "CAPTION_WEB_ADDR")
	overrideString(&cfg.IPC.Socket, "CAPTION_IPC_SOCKET")
	overrideInt(&cfg.Audio.SampleRate, "CAPTION_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.FrameMS, "CAPTION_AUDIO_FRAME_MS")
	overrideFloat(&cfg.Audio.SilenceRMS, "CAPTION_AUDIO_SILENCE_RMS")
	overrideInt(&cfg.Audio.SilenceMS, "CAPTION_AUDIO_SILENCE_MS")
	overrideInt(&cfg.Audio.MaxSeconds, "CAPTION_AUDIO_MAX_SECONDS")
	overrideString(&cfg.Audio.CueFile, "CAPTION_AUDIO_CUE_FILE")
	overrideString(&cfg.Audio.DumpDir, "CAPTION_AUDIO_DUMP_DIR")
	overrideBool(&cfg.Audio.Duck, "CAPTION_AUDIO_DUCK")
	overrideFloat(&cfg.Audio.DuckFactor, "CAPTION_AUDIO_DUCK_FACTOR")
	overrideString(&cfg.STT.DefaultAPI, "CAPTION_STT_DEFAULT_API")
	overrideString(&cfg.STT.DefaultLanguage, "CAPTION_STT_DEFAULT_LANGUAGE")
	overrideStringSlice(&cfg.STT.Languages, "CAPTION_STT_LANGUAGES")
	overrideInt(&cfg.STT.TimeoutSeconds, "CAPTION_STT_TIMEOUT_S")
	overrideString(&cfg.STT.Proxy, "CAPTION_STT_PROXY")
	overrideString(&cfg.STT.GoogleURL, "CAPTION_STT_GOOGLE_URL")
	overrideString(&cfg.STT.GoogleKey, "GOOGLE_SPEECH_KEY")
	overrideString(&cfg.STT.WhisperModel, "CAPTION_STT_WHISPER_MODEL")
	overrideInt(&cfg.STT.WhisperThreads, "CAPTION_STT_WHISPER_THREADS")
	overrideString(&cfg.STT.WhisperPrompt, "CAPTION_STT_WHISPER_PROMPT")
	overrideInt(&cfg.STT.WhisperBeam, "CAPTION_STT_WHISPER_BEAM_SIZE")
	overrideFloat(&cfg.STT.WhisperTemp, "CAPTION_STT_WHISPER_TEMPERATURE")
	overrideString(&cfg.STT.OpenAIKey, "OPENAI_API_KEY")
	overrideString(&cfg.STT.OpenAIModel, "CAPTION_STT_OPENAI_MODEL")
	overrideBool(&cfg.History.Enabled, "CAPTION_HISTORY_ENABLED")
	overrideString(&cfg.History.Path, "CAPTION_HISTORY_PATH")
	overrideInt(&cfg.History.RetentionDays, "CAPTION_HISTORY_RETENTION_DAYS")
	overrideString(&cfg.Bus.URL, "CAPTION_BUS_URL")
	overrideString(&cfg.Bus.Subject, "CAPTION_BUS_SUBJECT")
	overrideInt(&cfg.Bus.ConnectTimeout, "CAPTION_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Telemetry.ServiceName, "CAPTION_TELEMETRY_SERVICE_NAME")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "CAPTION_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "CAPTION_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "CAPTION_TELEMETRY_STDOUT_TRACES")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.Web.Enabled && cfg.Web.Addr == "" {
		return errors.New("web.addr must not be empty when the web UI is enabled")
	}
	if cfg.IPC.Socket == "" {
		return errors.New("ipc.socket must not be empty")
	}
	if cfg.STT.WhisperBeam < 0 {
		return errors.New("stt.whisper_beam_size must not be negative")
	}
	if cfg.STT.WhisperTemp < 0 {
		return errors.New("stt.whisper_temperature must not be negative")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.FrameMS <= 0 {
		return errors.New("audio.frame_ms must be positive")
	}
	if cfg.Audio.SilenceRMS <= 0 {
		return errors.New("audio.silence_rms must be positive")
	}
	if cfg.Audio.MaxSeconds <= 0 {
		return errors.New("audio.max_seconds must be positive")
	}
	if cfg.Audio.Duck && (cfg.Audio.DuckFactor < 0 || cfg.Audio.DuckFactor > 1) {
		return errors.New("audio.duck_factor must be between 0 and 1")
	}
	if cfg.STT.DefaultAPI == "" {
		return errors.New("stt.default_api must not be empty")
	}
	if len(cfg.STT.Languages) == 0 {
		return errors.New("stt.languages must not be empty")
	}
	if cfg.STT.TimeoutSeconds <= 0 {
		return errors.New("stt.timeout_s must be positive")
	}
	if cfg.STT.GoogleURL == "" {
		return errors.New("stt.google_url must not be empty")
	}
	if cfg.History.Enabled {
		if cfg.History.Path == "" {
			return errors.New("history.path must not be empty when history is enabled")
		}
		if cfg.History.RetentionDays < 0 {
			return errors.New("history.retention_days must be >= 0")
		}
	}
	if cfg.Bus.URL != "" && cfg.Bus.Subject == "" {
		return errors.New("bus.subject must be set when bus.url is configured")
	}
	return nil
}
