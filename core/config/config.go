package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrNilConfig is returned when Load receives a nil pointer.
var ErrNilConfig = errors.New("config: destination must be a non-nil pointer to a struct")

var (
	dotenvOnce sync.Once
	cacheMu    sync.Mutex
	cache      = map[reflect.Type]any{}
)

// Load parses environment variables into cfg. The first successful result for
// each type is cached and copied into later calls.
func Load[T any](cfg *T) error {
	if cfg == nil {
		return ErrNilConfig
	}

	dotenvOnce.Do(func() {
		// Missing .env is the normal case in containers.
		_ = godotenv.Load()
	})

	typ := reflect.TypeOf(cfg).Elem()
	if typ.Kind() != reflect.Struct {
		return ErrNilConfig
	}

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if cached, ok := cache[typ]; ok {
		*cfg = cached.(T)
		return nil
	}

	var parsed T
	if err := env.Parse(&parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", typ.Name(), err)
	}
	cache[typ] = parsed
	*cfg = parsed
	return nil
}

// MustLoad is like Load but panics on failure. Intended for process startup.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}

// LoadFile reads the named env files into the process environment without
// overriding variables that are already set.
func LoadFile(filenames ...string) error {
	for _, name := range filenames {
		if name == "" {
			continue
		}
		if _, err := os.Stat(name); err != nil {
			return fmt.Errorf("config: env file %q: %w", name, err)
		}
		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("config: load %q: %w", name, err)
		}
	}
	return nil
}

// Reset clears the per-type cache. Tests use it to reload changed variables.
func Reset() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	cache = map[reflect.Type]any{}
}
