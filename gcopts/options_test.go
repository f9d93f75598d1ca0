package gcopts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinygo-org/gencgc/runtime/cardmark"
)

func TestDefaultVerifies(t *testing.T) {
	cfg, err := Default().Verify()
	if err != nil {
		t.Fatalf("default options: %v", err)
	}
	if cfg.HeapBytes != 64<<20 {
		t.Errorf("heap %d bytes", cfg.HeapBytes)
	}
	if cfg.Barrier != cardmark.Software {
		t.Errorf("barrier %v", cfg.Barrier)
	}
	if cfg.CardBytes == 0 || cfg.HeapBytes%cfg.CardBytes != 0 {
		t.Errorf("card size %d", cfg.CardBytes)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gc.yaml")
	data := "heap-size: 8MB\nbarrier: hard\nstats: true\ncard-bytes: 8192\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	o := Default()
	if err := o.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if o.HeapSize != "8MB" || o.Barrier != "hard" || !o.Stats || o.CardBytes != 8192 {
		t.Errorf("loaded %+v", o)
	}
	if o.StackWords != Default().StackWords {
		t.Error("defaults lost for keys missing from the file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("heap-sise: 8MB\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := o.Load(bad); err == nil || !strings.Contains(err.Error(), "bad.yaml") {
		t.Errorf("unknown key: err = %v", err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    func(o Options) bool
		wantErr string
	}{
		{in: "", want: func(o Options) bool { return o == Default() }},
		{in: "barrier=hard stats=true", want: func(o Options) bool { return o.Barrier == "hard" && o.Stats }},
		{in: `heap-size='16 MB' verbose=1`, want: func(o Options) bool { return o.HeapSize == "16 MB" && o.Verbose }},
		{in: "stack-words=128 scrub-bytes=64", want: func(o Options) bool { return o.StackWords == 128 && o.ScrubBytes == 64 }},
		{in: "barrier", wantErr: "expected key=value"},
		{in: "color=red", wantErr: "unknown option"},
		{in: "stats=maybe", wantErr: "stats"},
		{in: `heap-size='16MB`, wantErr: EnvVar},
	}
	for _, tc := range tests {
		o := Default()
		err := o.Parse(tc.in)
		if tc.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Parse(%q) error = %v, want %q", tc.in, err, tc.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", tc.in, err)
			continue
		}
		if !tc.want(o) {
			t.Errorf("Parse(%q) = %+v", tc.in, o)
		}
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvVar, "barrier=hardware")
	o := Default()
	if err := o.FromEnv(); err != nil {
		t.Fatal(err)
	}
	if o.Barrier != "hardware" {
		t.Errorf("barrier %q", o.Barrier)
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(o *Options)
		wantErr string
	}{
		{"bad size", func(o *Options) { o.HeapSize = "lots" }, "heap-size"},
		{"odd card", func(o *Options) { o.CardBytes = 3000 }, "card-bytes"},
		{"tiny heap", func(o *Options) { o.HeapSize = "1KB"; o.CardBytes = 4096 }, "smaller than a card"},
		{"barrier", func(o *Options) { o.Barrier = "none" }, "none"},
		{"stack", func(o *Options) { o.StackWords = 0 }, "stack-words"},
		{"scrub", func(o *Options) { o.StackWords = 8; o.ScrubBytes = 128 }, "scrub-bytes"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := Default()
			tc.edit(&o)
			if _, err := o.Verify(); err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %v, want %q", err, tc.wantErr)
			}
		})
	}

	o := Default()
	o.HeapSize = "10KB"
	o.CardBytes = 4096
	cfg, err := o.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HeapBytes != 8192 {
		t.Errorf("heap not rounded to cards: %d", cfg.HeapBytes)
	}
}
