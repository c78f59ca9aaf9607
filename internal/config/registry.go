package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/tilawa/pkg/audio"
	"github.com/MrWong99/tilawa/pkg/provider/stt"
	"github.com/MrWong99/tilawa/pkg/provider/transcribe"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	fn, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	v, err := fn(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return v, nil
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for n := range f.m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Registry maps provider names to factories per provider kind. It is safe
// for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	recognizer  factories[stt.Provider]
	transcriber factories[transcribe.Transcriber]
	audio       factories[audio.Device]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		recognizer:  newFactories[stt.Provider]("recognizer"),
		transcriber: newFactories[transcribe.Transcriber]("transcriber"),
		audio:       newFactories[audio.Device]("audio"),
	}
}

// RegisterRecognizer registers a continuous recognizer factory under name.
// Registering a name twice replaces the earlier factory.
func (r *Registry) RegisterRecognizer(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizer.m[name] = f
}

// RegisterTranscriber registers a batch transcriber factory under name.
func (r *Registry) RegisterTranscriber(name string, f Factory[transcribe.Transcriber]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber.m[name] = f
}

// RegisterAudio registers a capture device factory under name.
func (r *Registry) RegisterAudio(name string, f Factory[audio.Device]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio.m[name] = f
}

// CreateRecognizer builds the recognizer registered under entry.Name.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recognizer.create(entry)
}

// CreateTranscriber builds the transcriber registered under entry.Name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (transcribe.Transcriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.transcriber.create(entry)
}

// CreateAudio builds the capture device registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.audio.create(entry)
}

// Registered returns the sorted registered names per kind.
func (r *Registry) Registered() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"recognizer":  r.recognizer.names(),
		"transcriber": r.transcriber.names(),
		"audio":       r.audio.names(),
	}
}
