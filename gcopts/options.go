// Package gcopts holds the options of a heap and its collector.
//
// Options come from three places, later ones overriding earlier ones: the
// defaults, a YAML file, and the GENCGC_OPTIONS environment variable, which
// holds shell-quoted key=value words using the same keys as the file:
//
//	GENCGC_OPTIONS='heap-size=256MB barrier=hard stats=true'
package gcopts

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/inhies/go-bytesize"
	"github.com/tinygo-org/gencgc/runtime/cardmark"
	"github.com/tinygo-org/gencgc/runtime/heap"
	"gopkg.in/yaml.v2"
)

// EnvVar names the environment variable read by FromEnv.
const EnvVar = "GENCGC_OPTIONS"

// Options is the user-facing configuration.
type Options struct {
	HeapSize   string `yaml:"heap-size"`
	CardBytes  int    `yaml:"card-bytes"`
	Barrier    string `yaml:"barrier"`
	StackWords int    `yaml:"stack-words"`
	ScrubBytes int    `yaml:"scrub-bytes"`
	Stats      bool   `yaml:"stats"`
	Verbose    bool   `yaml:"verbose"`
}

// Default returns the options used when nothing is configured. A zero
// CardBytes means the OS page size.
func Default() Options {
	return Options{
		HeapSize:   "64MB",
		Barrier:    cardmark.Software.String(),
		StackWords: 1 << 14,
		ScrubBytes: 1 << 12,
	}
}

// Load reads a YAML file over o. Unknown keys are an error.
func (o *Options) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.UnmarshalStrict(data, o); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Parse applies a GENCGC_OPTIONS style string to o.
func (o *Options) Parse(s string) error {
	words, err := shlex.Split(s)
	if err != nil {
		return fmt.Errorf("%s: %w", EnvVar, err)
	}
	for _, w := range words {
		key, value, ok := strings.Cut(w, "=")
		if !ok {
			return fmt.Errorf("%s: expected key=value, got %q", EnvVar, w)
		}
		if err := o.set(key, value); err != nil {
			return fmt.Errorf("%s: %s: %w", EnvVar, key, err)
		}
	}
	return nil
}

// FromEnv applies the GENCGC_OPTIONS environment variable, if set.
func (o *Options) FromEnv() error {
	s, ok := os.LookupEnv(EnvVar)
	if !ok {
		return nil
	}
	return o.Parse(s)
}

func (o *Options) set(key, value string) error {
	var err error
	switch key {
	case "heap-size":
		o.HeapSize = value
	case "card-bytes":
		o.CardBytes, err = strconv.Atoi(value)
	case "barrier":
		o.Barrier = value
	case "stack-words":
		o.StackWords, err = strconv.Atoi(value)
	case "scrub-bytes":
		o.ScrubBytes, err = strconv.Atoi(value)
	case "stats":
		o.Stats, err = strconv.ParseBool(value)
	case "verbose":
		o.Verbose, err = strconv.ParseBool(value)
	default:
		return errors.New("unknown option")
	}
	return err
}

// Config is the validated form of Options.
type Config struct {
	HeapBytes  uintptr
	CardBytes  uintptr
	Barrier    cardmark.Kind
	StackWords int
	ScrubBytes int
	Stats      bool
	Verbose    bool
}

// Verify checks o and resolves it into a Config.
func (o Options) Verify() (Config, error) {
	cfg := Config{
		StackWords: o.StackWords,
		ScrubBytes: o.ScrubBytes,
		Stats:      o.Stats,
		Verbose:    o.Verbose,
	}

	size, err := bytesize.Parse(o.HeapSize)
	if err != nil {
		return cfg, fmt.Errorf("invalid heap-size %q: %w", o.HeapSize, err)
	}
	cfg.HeapBytes = uintptr(size)

	cfg.CardBytes = uintptr(o.CardBytes)
	if o.CardBytes == 0 {
		cfg.CardBytes = uintptr(heap.OSPageSize())
	}
	if o.CardBytes < 0 || cfg.CardBytes&(cfg.CardBytes-1) != 0 {
		return cfg, fmt.Errorf("invalid card-bytes %d: must be a power of two", o.CardBytes)
	}
	if cfg.HeapBytes < cfg.CardBytes {
		return cfg, fmt.Errorf("heap-size %s is smaller than a card", o.HeapSize)
	}
	// Round down to whole cards.
	cfg.HeapBytes -= cfg.HeapBytes % cfg.CardBytes

	cfg.Barrier, err = cardmark.ParseKind(o.Barrier)
	if err != nil {
		return cfg, err
	}
	if o.StackWords <= 0 {
		return cfg, fmt.Errorf("invalid stack-words %d", o.StackWords)
	}
	if o.ScrubBytes < 0 || o.ScrubBytes > o.StackWords*heap.WordBytes {
		return cfg, fmt.Errorf("scrub-bytes %d out of range for a %d word stack", o.ScrubBytes, o.StackWords)
	}
	return cfg, nil
}
