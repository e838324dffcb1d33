package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/panelai/pkg/audio"
	"github.com/MrWong99/panelai/pkg/provider/live"
)

// ErrProviderNotRegistered is returned when a config names a provider no
// factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Devices is the pair of audio clocks an audio backend opens.
type Devices struct {
	Microphone audio.Microphone
	Output     audio.Output
}

// factories is a name-keyed set of constructors for one provider kind.
type factories[C, T any] struct {
	kind string
	m    map[string]func(C) (T, error)
}

func (f factories[C, T]) create(name string, cfg C) (T, error) {
	factory, ok := f.m[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	return factory(cfg)
}

// Registry maps provider names from the config to constructors. Commands
// register the built-in implementations; tests register fakes. It is safe
// for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	live  factories[LiveConfig, live.Provider]
	audio factories[AudioConfig, Devices]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		live:  factories[LiveConfig, live.Provider]{kind: "live", m: map[string]func(LiveConfig) (live.Provider, error){}},
		audio: factories[AudioConfig, Devices]{kind: "audio", m: map[string]func(AudioConfig) (Devices, error){}},
	}
}

// RegisterLive registers the live model provider called name, replacing any
// earlier registration.
func (r *Registry) RegisterLive(name string, factory func(LiveConfig) (live.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live.m[name] = factory
}

// RegisterAudio registers the audio backend called name, replacing any
// earlier registration.
func (r *Registry) RegisterAudio(name string, factory func(AudioConfig) (Devices, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio.m[name] = factory
}

// CreateLive builds the provider named by cfg.Provider.
func (r *Registry) CreateLive(cfg LiveConfig) (live.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live.create(cfg.Provider, cfg)
}

// CreateAudio opens the devices of the backend named by cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig) (Devices, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audio.create(cfg.Backend, cfg)
}

// Names returns the registered names per provider kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		r.live.kind:  slices.Sorted(maps.Keys(r.live.m)),
		r.audio.kind: slices.Sorted(maps.Keys(r.audio.m)),
	}
}
