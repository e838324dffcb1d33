// Package ffmpeg provides the real audio devices used by the terminal client:
// a microphone read from an ffmpeg subprocess and a speaker that pipes PCM
// into ffplay.
//
// Both binaries must be on PATH (or configured explicitly). The microphone
// asks ffmpeg for the configured capture format, so the capture pipeline only
// converts when a device cannot deliver it natively.
//
// PCM handed to ffplay cannot be recalled. The speaker therefore feeds each
// chunk in short slices, and a voice that is stopped or muted still plays
// out the slices already written (at most two slices of audio).
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/panelai/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone    = (*Microphone)(nil)
	_ audio.CaptureStream = (*stream)(nil)
	_ audio.Output        = (*Speaker)(nil)
)

// readChunk is the capture read granularity: 20 ms of 16 kHz mono.
const readChunk = 640

// DefaultInput returns the platform capture demuxer and device name.
func DefaultInput() (format, device string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", "none:0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

// ── Microphone ─────────────────────────────────────────────────────────────────

// MicOption configures a [Microphone].
type MicOption func(*Microphone)

// WithFFmpegPath sets the ffmpeg executable.
func WithFFmpegPath(path string) MicOption {
	return func(m *Microphone) {
		if path != "" {
			m.bin = path
		}
	}
}

// WithInput selects the ffmpeg input demuxer and device, e.g. "pulse" and
// "default" or "alsa" and "hw:1".
func WithInput(format, device string) MicOption {
	return func(m *Microphone) {
		if format != "" {
			m.format = format
		}
		if device != "" {
			m.device = device
		}
	}
}

// WithCaptureFormat sets the rate and channel count requested from ffmpeg.
func WithCaptureFormat(rate, channels int) MicOption {
	return func(m *Microphone) {
		if rate > 0 {
			m.rate = rate
		}
		if channels > 0 {
			m.channels = channels
		}
	}
}

// Microphone captures audio through an ffmpeg subprocess. It acts as the
// session's input clock: Suspend drops captured frames until Resume.
type Microphone struct {
	bin      string
	format   string
	device   string
	rate     int
	channels int

	mu        sync.Mutex
	suspended bool
	closed    bool
}

// NewMicrophone returns a Microphone with platform defaults.
func NewMicrophone(opts ...MicOption) *Microphone {
	format, device := DefaultInput()
	m := &Microphone{
		bin:      "ffmpeg",
		format:   format,
		device:   device,
		rate:     audio.InputSampleRate,
		channels: 1,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Open starts ffmpeg and returns the capture stream.
func (m *Microphone) Open(ctx context.Context) (audio.CaptureStream, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, errors.New("ffmpeg: microphone closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bin, err := exec.LookPath(m.bin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", m.format,
		"-i", m.device,
		"-ac", strconv.Itoa(m.channels),
		"-ar", strconv.Itoa(m.rate),
		"-f", "s16le",
		"-",
	}
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg: stdout: %w", err)
	}
	stderr := &tailBuffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg: start: %w", err)
	}
	slog.Debug("ffmpeg: microphone started", "pid", cmd.Process.Pid, "args", strings.Join(args, " "))

	s := &stream{
		cmd:    cmd,
		cancel: cancel,
		frames: make(chan audio.AudioFrame, 32),
		done:   make(chan struct{}),
	}
	go s.read(bufio.NewReaderSize(stdout, 16*1024), m, stderr)
	return s, nil
}

func (m *Microphone) isSuspended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suspended
}

// Resume implements [audio.Clock].
func (m *Microphone) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspended = false
	return nil
}

// Suspend implements [audio.Clock].
func (m *Microphone) Suspend() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspended = true
	return nil
}

// Close implements [audio.Clock]. Streams already opened must be closed
// separately.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type stream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	frames chan audio.AudioFrame
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *stream) read(r io.Reader, m *Microphone, stderr *tailBuffer) {
	defer close(s.frames)

	chunk := readChunk * m.channels * m.rate / audio.InputSampleRate
	chunk -= chunk % (2 * m.channels)
	var captured time.Duration
	for {
		buf := make([]byte, chunk)
		if _, err := io.ReadFull(r, buf); err != nil {
			select {
			case <-s.done:
			default:
				slog.Warn("ffmpeg: microphone stream ended", "err", err, "stderr", strings.TrimSpace(stderr.String()))
			}
			return
		}
		frame := audio.AudioFrame{Data: buf, SampleRate: m.rate, Channels: m.channels, Timestamp: captured}
		captured += time.Duration(frame.Samples()) * time.Second / time.Duration(m.rate)
		if m.isSuspended() {
			continue
		}
		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

func (s *stream) Frames() <-chan audio.AudioFrame { return s.frames }

func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		if err := s.cmd.Wait(); err != nil && !isKilled(err) {
			s.err = fmt.Errorf("ffmpeg: wait: %w", err)
		}
	})
	return s.err
}

// tailBuffer keeps the last few hundred bytes of a subprocess's stderr.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - 512; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func isKilled(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && !exitErr.Exited()
}

// ── Speaker ────────────────────────────────────────────────────────────────────

// SpeakerOption configures a [Speaker].
type SpeakerOption func(*Speaker)

// WithFFplayPath sets the ffplay executable.
func WithFFplayPath(path string) SpeakerOption {
	return func(s *Speaker) {
		if path != "" {
			s.bin = path
		}
	}
}

// WithPlaybackRate sets the PCM rate fed to ffplay.
func WithPlaybackRate(rate int) SpeakerOption {
	return func(s *Speaker) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// Speaker is the output clock backed by a long-running ffplay process. Its
// timeline is wall time since the speaker was opened, minus any time spent
// suspended. Buffers are fed to ffplay in short slices once their start
// position is reached.
type Speaker struct {
	bin  string
	rate int

	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	epoch       time.Time
	suspendedAt time.Time
	paused      time.Duration
	suspended   bool
	muted       bool
	closed      bool
}

// OpenSpeaker starts ffplay and returns the running speaker.
func OpenSpeaker(opts ...SpeakerOption) (*Speaker, error) {
	s := &Speaker{bin: "ffplay", rate: audio.OutputSampleRate}
	for _, o := range opts {
		o(s)
	}

	bin, err := exec.LookPath(s.bin)
	if err != nil {
		return nil, fmt.Errorf("ffplay: %w", err)
	}
	cmd := exec.Command(bin,
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", "mono",
		"-ar", strconv.Itoa(s.rate),
		"-i", "-",
	)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffplay: stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffplay: start: %w", err)
	}
	s.cmd = cmd
	s.stdin = stdin
	s.epoch = time.Now()
	return s, nil
}

// Now implements [audio.Output].
func (s *Speaker) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowLocked()
}

func (s *Speaker) nowLocked() time.Duration {
	if s.suspended {
		return s.suspendedAt.Sub(s.epoch) - s.paused
	}
	return time.Since(s.epoch) - s.paused
}

// Schedule implements [audio.Output].
func (s *Speaker) Schedule(buf *audio.Buffer, at time.Duration, ended func()) (audio.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("ffplay: speaker closed")
	}

	pcm := audio.Int16ToBytes(audio.FloatTo16BitPCM(buf.Samples))
	v := &voice{}
	delay := max(at-s.nowLocked(), 0)
	slices := splitPCM(pcm, s.sliceBytes())
	v.start = time.AfterFunc(delay, func() { s.feed(v, slices) })
	v.end = time.AfterFunc(delay+buf.Duration(), func() {
		if v.markDone() && ended != nil {
			ended()
		}
	})
	return v, nil
}

// feedSlice is the amount of audio written to ffplay per step.
const feedSlice = 50 * time.Millisecond

func (s *Speaker) sliceBytes() int {
	return 2 * s.rate * int(feedSlice/time.Millisecond) / 1000
}

// splitPCM cuts pcm into slices of at most n bytes.
func splitPCM(pcm []byte, n int) [][]byte {
	if n <= 0 || len(pcm) <= n {
		return [][]byte{pcm}
	}
	out := make([][]byte, 0, (len(pcm)+n-1)/n)
	for len(pcm) > n {
		out = append(out, pcm[:n])
		pcm = pcm[n:]
	}
	return append(out, pcm)
}

// feed writes the first two slices at once so ffplay keeps one slice of
// lead, then one slice per feedSlice until the voice is stopped.
func (s *Speaker) feed(v *voice, slices [][]byte) {
	lead := min(len(slices), 2)
	for _, p := range slices[:lead] {
		if v.isStopped() {
			return
		}
		s.write(p)
	}
	s.feedNext(v, slices[lead:])
}

func (s *Speaker) feedNext(v *voice, rest [][]byte) {
	if len(rest) == 0 {
		return
	}
	v.setNext(time.AfterFunc(feedSlice, func() {
		if v.isStopped() {
			return
		}
		s.write(rest[0])
		s.feedNext(v, rest[1:])
	}))
}

func (s *Speaker) write(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.suspended || s.muted {
		return
	}
	if _, err := s.stdin.Write(pcm); err != nil {
		slog.Warn("ffplay: write failed", "err", err)
	}
}

// SetMuted implements [audio.Output].
func (s *Speaker) SetMuted(muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
	return nil
}

// Resume implements [audio.Clock].
func (s *Speaker) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		s.paused += time.Since(s.suspendedAt)
		s.suspended = false
	}
	return nil
}

// Suspend implements [audio.Clock].
func (s *Speaker) Suspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.suspended {
		s.suspendedAt = time.Now()
		s.suspended = true
	}
	return nil
}

// Close implements [audio.Clock].
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stdin, cmd := s.stdin, s.cmd
	s.mu.Unlock()

	_ = stdin.Close()
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if err := cmd.Wait(); err != nil && !isKilled(err) {
		return fmt.Errorf("ffplay: wait: %w", err)
	}
	return nil
}

type voice struct {
	mu         sync.Mutex
	start, end *time.Timer
	next       *time.Timer
	stopped    bool
	done       bool
}

func (v *voice) isStopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

func (v *voice) setNext(t *time.Timer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped {
		t.Stop()
		return
	}
	v.next = t
}

// markDone reports whether the voice finished naturally.
func (v *voice) markDone() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped || v.done {
		return false
	}
	v.done = true
	return true
}

func (v *voice) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stopped {
		return nil
	}
	v.stopped = true
	v.start.Stop()
	v.end.Stop()
	if v.next != nil {
		v.next.Stop()
	}
	return nil
}
