package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"caption/internal/audio"
	"caption/internal/bus"
	"caption/internal/config"
	"caption/internal/history"
	"caption/internal/ipc"
	"caption/internal/notify"
	"caption/internal/proxy"
	"caption/internal/session"
	"caption/internal/telemetry"
	"caption/internal/transcribe"
	"caption/internal/web"
	"caption/pkg/audioconv"
	"caption/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	configPath := cli.StringP("config", "c", "", "Config file path")
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	cli.Parse()

	logger := log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	}))
	log.SetDefault(logger)

	log.Info("Booting up")

	// a missing env file is fine, the variables may come from the shell
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}
	log.Info("Shut down")
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	shutdownTelemetry, metrics, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Warn("Telemetry shutdown failed", "err", err)
		}
	}()

	timeout := time.Duration(cfg.STT.TimeoutSeconds) * time.Second
	httpClient, err := proxy.NewHTTPClient(cfg.STT.Proxy, timeout)
	if err != nil {
		log.Error("Failed to dial socks proxy", "proxy", cfg.STT.Proxy, "err", err)
		return err
	}
	log.Debug("Loaded http client", "proxy", cfg.STT.Proxy)

	backends, err := newRegistry(cfg, httpClient)
	if err != nil {
		return err
	}
	defer backends.Close()
	log.Debug("Loaded backends", "names", backends.Names())

	rec := audio.NewRecorder(audio.RecorderConfig{
		SampleRate: cfg.Audio.SampleRate,
		FrameMS:    cfg.Audio.FrameMS,
		SilenceRMS: cfg.Audio.SilenceRMS,
		SilenceMS:  cfg.Audio.SilenceMS,
		MaxSeconds: cfg.Audio.MaxSeconds,
	})
	if err := rec.Init(); err != nil {
		log.Error("Failed to init audio", "err", err)
		return err
	}
	defer rec.Close()
	log.Debug("Loaded recorder")

	tcfg := transcribe.Config{
		SampleRate: cfg.Audio.SampleRate,
		Timeout:    timeout,
		DumpDir:    cfg.Audio.DumpDir,
		Cue:        notify.NewCue(cfg.Audio.CueFile),
	}
	if cfg.Audio.Duck {
		tcfg.Ducker = audio.NewDucker(nil, cfg.Audio.DuckFactor, time.Duration(cfg.Audio.DuckFadeMS)*time.Millisecond)
	}
	tr := transcribe.New(rec, backends, tcfg, logger)

	store, err := history.Open(ctx, cfg.History, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	pub, err := bus.Connect(cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	deps := session.Deps{Transcriber: tr, History: store, Logger: logger}
	if pub != nil {
		deps.Publisher = pub
	}
	ctrl := session.NewController(deps)
	if err := store.AppendSession(ctx, ctrl.Status().SessionID); err != nil {
		log.Warn("Failed to record session", "err", err)
	}

	defaults := ipc.Defaults{
		API:      cfg.STT.DefaultAPI,
		Language: cfg.STT.DefaultLanguage,
		File:     "transcription.txt",
		Limit:    20,
	}
	if err := ipc.StartServer(ctx, cfg.IPC.Socket, ipc.NewHandler(ctrl, defaults, logger), logger); err != nil {
		log.Error("Failed ipc server", "err", err)
		return err
	}

	log.Info("Boot up - successful", "session", ctrl.Status().SessionID)

	if !cfg.Web.Enabled {
		<-ctx.Done()
		return nil
	}

	srv := web.NewServer(cfg.Web.Addr, ctrl, web.Options{
		Backends:    tr.Backends(),
		Languages:   cfg.STT.Languages,
		DefaultAPI:  defaults.API,
		DefaultLang: defaults.Language,
		DefaultFile: defaults.File,
	}, metrics, logger)
	return srv.Run(ctx)
}

// newRegistry registers the backends in the order the UI lists them. Every
// backend receives 16 kHz audio whatever rate the microphone runs at.
func newRegistry(cfg config.Config, httpClient *http.Client) (*stt.Registry, error) {
	reg := stt.NewRegistry()

	reg.Register("Google", stt.NewGoogle(stt.GoogleConfig{
		URL:        cfg.STT.GoogleURL,
		Key:        cfg.STT.GoogleKey,
		SampleRate: audioconv.TargetRate,
		Client:     httpClient,
	}))

	whisper, err := stt.NewWhisper(cfg.STT.WhisperModel, whisperOptions(cfg.STT))
	if err != nil {
		log.Error("Failed to init whisper", "model", cfg.STT.WhisperModel, "err", err)
		return nil, err
	}
	if cfg.STT.WhisperModel == "" {
		log.Warn("No whisper model configured, Sphinx requests will fail")
	}
	reg.Register("Sphinx", whisper)

	if cfg.STT.OpenAIKey != "" {
		reg.Register("OpenAI", stt.NewOpenAI(cfg.STT.OpenAIKey, cfg.STT.OpenAIModel, audioconv.TargetRate, httpClient))
	} else {
		log.Debug("OPENAI_API_KEY not set, OpenAI backend disabled")
	}

	return reg, nil
}

func whisperOptions(cfg config.STTConfig) stt.Options {
	return stt.Options{
		Threads:       cfg.WhisperThreads,
		InitialPrompt: cfg.WhisperPrompt,
		BeamSize:      cfg.WhisperBeam,
		Temperature:   float32(cfg.WhisperTemp),
	}
}
