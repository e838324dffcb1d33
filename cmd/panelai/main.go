// Command panelai runs a voice mock interview in the terminal. It captures the
// microphone with ffmpeg, plays the interviewer through ffplay and prints the
// feedback report when the interview is over.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/panelai/internal/app"
	"github.com/MrWong99/panelai/internal/config"
	"github.com/MrWong99/panelai/internal/observe"
	"github.com/MrWong99/panelai/internal/prompt"
	"github.com/MrWong99/panelai/pkg/audio/ffmpeg"
	"github.com/MrWong99/panelai/pkg/provider/live"
	"github.com/MrWong99/panelai/pkg/provider/live/gemini"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "panelai.yaml", "path to the YAML configuration file (optional)")
	jobTitle := flag.String("job", "", "job title to interview for")
	interviewType := flag.String("type", "", "interview type: Behavioral, Technical or General")
	difficulty := flag.String("difficulty", "", "difficulty for technical interviews: Easy, Medium or Hard")
	resumeFile := flag.String("resume", "", "resume file (.txt, .pdf, .png, .jpg) shared with the interviewer")
	serverURL := flag.String("server", "", "base URL of a panelai server issuing credentials")
	token := flag.String("token", "", "bot verification token forwarded to the credential server")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, isFlagSet("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "panelai: %v\n", err)
		return 1
	}
	config.ApplyEnv(cfg)
	if err := applyFlags(cfg, *jobTitle, *interviewType, *difficulty, *resumeFile, *serverURL); err != nil {
		fmt.Fprintf(os.Stderr, "panelai: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceName: "panelai"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer application.Close()

	if _, err := application.Run(ctx, *token); err != nil {
		slog.Error("interview failed", "err", err)
		return 1
	}
	return 0
}

// loadConfig reads path. A missing file falls back to the defaults unless
// the path was given explicitly.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return config.Default(), nil
	}
	return cfg, err
}

// applyFlags overrides the interview settings with non-empty flag values and
// re-validates the result.
func applyFlags(cfg *config.Config, jobTitle, interviewType, difficulty, resumeFile, serverURL string) error {
	if jobTitle != "" {
		cfg.Interview.JobTitle = jobTitle
	}
	if interviewType != "" {
		cfg.Interview.Type = prompt.InterviewType(interviewType)
	}
	if difficulty != "" {
		cfg.Interview.Difficulty = prompt.Difficulty(difficulty)
	}
	if resumeFile != "" {
		cfg.Interview.ResumeFile = resumeFile
	}
	if serverURL != "" {
		cfg.Credential.ServerURL = serverURL
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if cfg.Interview.JobTitle == "" {
		return errors.New("a job title is required: pass -job or set interview.job_title")
	}
	return nil
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in live provider and audio backend
// into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLive("gemini", func(c config.LiveConfig) (live.Provider, error) {
		var opts []gemini.Option
		if c.Model != "" {
			opts = append(opts, gemini.WithModel(c.Model))
		}
		if c.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(c.BaseURL))
		}
		return gemini.New(opts...), nil
	})

	reg.RegisterAudio("ffmpeg", func(c config.AudioConfig) (config.Devices, error) {
		mic := ffmpeg.NewMicrophone(
			ffmpeg.WithFFmpegPath(c.FFmpegPath),
			ffmpeg.WithInput(c.InputFormat, c.InputDevice),
			ffmpeg.WithCaptureFormat(c.InputSampleRate, 1),
		)
		out, err := ffmpeg.OpenSpeaker(
			ffmpeg.WithFFplayPath(c.FFplayPath),
			ffmpeg.WithPlaybackRate(c.OutputSampleRate),
		)
		if err != nil {
			_ = mic.Close()
			return config.Devices{}, err
		}
		return config.Devices{Microphone: mic, Output: out}, nil
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        panelai — mock interview       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Role", cfg.Interview.JobTitle)
	printRow("Type", string(cfg.Interview.Type))
	if cfg.Interview.Type == prompt.TypeTechnical {
		printRow("Difficulty", string(cfg.Interview.Difficulty))
	}
	printRow("Model", cfg.Live.Model)
	printRow("Voice", cfg.Live.Voice)
	printRow("Time limit", cfg.Session.MaxDuration.String())
	if cfg.Credential.ServerURL != "" {
		printRow("Credentials", cfg.Credential.ServerURL)
	} else {
		printRow("Credentials", "local API key")
	}
	if cfg.Interview.ResumeFile != "" {
		printRow("Resume", cfg.Interview.ResumeFile)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if r := []rune(value); len(r) > 22 {
		value = string(r[:21]) + "…"
	}
	fmt.Printf("║  %-12s: %-22s ║\n", label, value)
}
