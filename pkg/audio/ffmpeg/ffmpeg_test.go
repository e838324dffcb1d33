package ffmpeg_test

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/MrWong99/panelai/pkg/audio"
	"github.com/MrWong99/panelai/pkg/audio/ffmpeg"
)

func TestDefaultInput(t *testing.T) {
	t.Parallel()
	format, device := ffmpeg.DefaultInput()
	if format == "" || device == "" {
		t.Fatalf("DefaultInput() = %q, %q", format, device)
	}
}

func TestMicrophone_MissingBinary(t *testing.T) {
	t.Parallel()
	mic := ffmpeg.NewMicrophone(ffmpeg.WithFFmpegPath("/nonexistent/ffmpeg-binary"))
	if _, err := mic.Open(context.Background()); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestMicrophone_ClosedRejectsOpen(t *testing.T) {
	t.Parallel()
	mic := ffmpeg.NewMicrophone()
	if err := mic.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := mic.Open(context.Background()); err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestOpenSpeaker_MissingBinary(t *testing.T) {
	t.Parallel()
	if _, err := ffmpeg.OpenSpeaker(ffmpeg.WithFFplayPath("/nonexistent/ffplay-binary")); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestSpeaker_ClockAndEnded(t *testing.T) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		t.Skip("ffplay not installed")
	}
	sp, err := ffmpeg.OpenSpeaker()
	if err != nil {
		t.Skipf("ffplay unavailable: %v", err)
	}
	defer sp.Close()
	if err := sp.SetMuted(true); err != nil {
		t.Fatal(err)
	}

	buf := &audio.Buffer{Samples: make([]float32, 240), SampleRate: audio.OutputSampleRate, Channels: 1}
	ended := make(chan struct{})
	if _, err := sp.Schedule(buf, sp.Now(), func() { close(ended) }); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("ended callback never fired")
	}

	if err := sp.Suspend(); err != nil {
		t.Fatal(err)
	}
	frozen := sp.Now()
	time.Sleep(20 * time.Millisecond)
	if sp.Now() != frozen {
		t.Error("suspended clock should not advance")
	}
	if err := sp.Resume(); err != nil {
		t.Fatal(err)
	}
}
