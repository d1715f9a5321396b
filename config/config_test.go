package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/xraph/cohort/config"
)

func TestTreeGetSet(t *testing.T) {
	t.Parallel()

	tr := config.New()
	if err := tr.Set("Debug/StrandBlockSize", "1024"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := tr.Int("debug.strandblocksize", 0); got != 1024 {
		t.Errorf("Int = %d, want 1024", got)
	}
	if !tr.Has("DEBUG.STRANDBLOCKSIZE") {
		t.Error("Has is not case-insensitive")
	}
	if got := tr.Int("missing", 7); got != 7 {
		t.Errorf("Int(missing) = %d, want 7", got)
	}
	if err := tr.Set("  ", "x"); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestTreeTypedAccessors(t *testing.T) {
	t.Parallel()

	tr := config.FromMap(map[string]string{
		"flag":  "true",
		"bad":   "maybe",
		"count": "x",
		"name":  "thor",
	})
	if !tr.Bool("flag", false) {
		t.Error("Bool(flag) = false, want true")
	}
	if !tr.Bool("bad", true) {
		t.Error("Bool(bad) should fall back to default")
	}
	if got := tr.Int("count", 3); got != 3 {
		t.Errorf("Int(count) = %d, want fallback 3", got)
	}
	if got := tr.String("name", ""); got != "thor" {
		t.Errorf("String(name) = %q, want %q", got, "thor")
	}
}

func TestSetDefault(t *testing.T) {
	t.Parallel()

	tr := config.FromMap(map[string]string{"a": "1"})
	if tr.SetDefault("a", "2") {
		t.Error("SetDefault overwrote an existing key")
	}
	if !tr.SetDefault("b", "2") {
		t.Error("SetDefault did not write a missing key")
	}
	if got, _ := tr.Get("a"); got != "1" {
		t.Errorf("a = %q, want 1", got)
	}
}

func TestMergePrecedence(t *testing.T) {
	t.Parallel()

	defaults := config.Defaults()
	remote := config.FromMap(map[string]string{
		config.KeyStrandBlockSize:     "2048",
		config.KeyChannelsPerWorker:   "4",
		config.KeyCoordinatorBuildTag: "build-7",
	})
	local := config.FromMap(map[string]string{
		config.KeyChannelsPerWorker: "2",
	})

	got := config.Resolve(defaults, remote, local)

	tests := []struct {
		key  string
		want string
	}{
		{config.KeyForceNumStrands, "0"},
		{config.KeyStrandBlockSize, "2048"},
		{config.KeyChannelsPerWorker, "2"},
		{config.KeyCoordinatorBuildTag, "build-7"},
	}
	for _, tt := range tests {
		if v, _ := got.Get(tt.key); v != tt.want {
			t.Errorf("%s = %q, want %q", tt.key, v, tt.want)
		}
	}

	// Inputs are not mutated.
	if v, _ := remote.Get(config.KeyChannelsPerWorker); v != "4" {
		t.Errorf("remote mutated: %s = %q", config.KeyChannelsPerWorker, v)
	}
}

func TestMergeNilLayers(t *testing.T) {
	t.Parallel()

	got := config.Merge(nil, config.FromMap(map[string]string{"a": "1"}), nil)
	if got.Len() != 1 {
		t.Errorf("Len = %d, want 1", got.Len())
	}
}

func TestParseArgs(t *testing.T) {
	t.Parallel()

	tree, rest, err := config.ParseArgs([]string{
		"--debug.hold=1",
		"@slavenum=3",
		"coordinator=10.0.0.1:20000",
		"run",
		"empty=",
	})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if got := tree.Int("debug.hold", 0); got != 1 {
		t.Errorf("debug.hold = %d, want 1", got)
	}
	if got := tree.Int("slavenum", 0); got != 3 {
		t.Errorf("slavenum = %d, want 3", got)
	}
	if got := tree.String("coordinator", ""); got != "10.0.0.1:20000" {
		t.Errorf("coordinator = %q", got)
	}
	if !tree.Has("empty") {
		t.Error("empty value should still set the key")
	}
	if !slices.Equal(rest, []string{"run"}) {
		t.Errorf("rest = %v, want [run]", rest)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cohort.yaml")
	doc := `
channels_per_worker: 2
debug:
  strand_block_size: 1024
  trace: true
queues: [high, low]
coordinator:
  build_tag: "b-42"
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	tree, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	want := map[string]string{
		"channels_per_worker":     "2",
		"debug.strand_block_size": "1024",
		"debug.trace":             "true",
		"queues":                  "high,low",
		"coordinator.build_tag":   "b-42",
	}
	for k, v := range want {
		if got, _ := tree.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestLoadFileMissing(t *testing.T) {
	t.Parallel()

	if _, err := config.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMarshalYAML(t *testing.T) {
	t.Parallel()

	tr := config.FromMap(map[string]string{
		"debug.strand_block_size": "512",
		"name":                    "cohort",
	})
	data, err := yaml.Marshal(tr)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := config.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := back.Int("debug.strand_block_size", 0); got != 512 {
		t.Errorf("strand_block_size = %d, want 512", got)
	}
}

func TestSub(t *testing.T) {
	t.Parallel()

	tr := config.Defaults()
	sub := tr.Sub("debug")
	if got := sub.Int("strand_block_size", 0); got != config.DefaultStrandBlockSize {
		t.Errorf("strand_block_size = %d, want %d", got, config.DefaultStrandBlockSize)
	}
	if sub.Has(config.KeyChannelsPerWorker) {
		t.Error("Sub leaked a key outside the prefix")
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	tr := config.New()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				_ = tr.SetInt("k", i*j)
				_ = tr.Int("k", 0)
				_ = tr.Keys()
			}
		}()
	}
	wg.Wait()
	if !tr.Has("k") {
		t.Error("key missing after concurrent writes")
	}
}
