package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestQueryArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"pro plan price", "-limit", "10"},
			expected: []string{"-limit", "10", "pro plan price"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-limit", "10", "pro plan price"},
			expected: []string{"-limit", "10", "pro plan price"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"pro plan price"},
			expected: []string{"pro plan price"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "-context"},
			expected: []string{"-context", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := queryArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("queryArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"refunds"}, "refunds"},
		{"multiple words", []string{"pro", "plan"}, "pro plan"},
		{"single quoted phrase", []string{"pro plan"}, "pro plan"},
		{"three words", []string{"how", "refunds", "work"}, "how refunds work"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
		{"one space", []string{" "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestQueryConfigPathFromArgs(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		defaultPath string
		want        string
	}{
		{"no config flag", []string{"-limit", "5", "query"}, "/default.yaml", "/default.yaml"},
		{"-config present", []string{"-config", "/custom.yaml", "query"}, "/default.yaml", "/custom.yaml"},
		{"--config present", []string{"--config", "/other.yaml"}, "/default.yaml", "/other.yaml"},
		{"config at end", []string{"query", "-config", "/end.yaml"}, "/default.yaml", "/end.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := queryConfigPathFromArgs(tt.args, tt.defaultPath)
			if got != tt.want {
				t.Errorf("queryConfigPathFromArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQueryLimitDefaultFromConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
retrieval:
  default_limit: 12
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	if got := queryLimitDefaultFromConfig(configPath); got != 12 {
		t.Errorf("queryLimitDefaultFromConfig() = %d, want 12", got)
	}
	// Missing file returns 5.
	if got := queryLimitDefaultFromConfig(filepath.Join(dir, "nonexistent.yaml")); got != 5 {
		t.Errorf("queryLimitDefaultFromConfig(nonexistent) = %d, want 5", got)
	}
}

func TestExtensionAccepted(t *testing.T) {
	tests := []struct {
		name string
		path string
		exts []string
		want bool
	}{
		{"supported default markdown", "/docs/readme.md", nil, true},
		{"supported default pdf", "/docs/spec.PDF", nil, true},
		{"unsupported default binary", "/bin/tool.exe", nil, false},
		{"explicit list match", "/logs/app.log", []string{".log"}, true},
		{"explicit list case-insensitive", "/logs/APP.LOG", []string{".log"}, true},
		{"explicit list excludes others", "/docs/readme.md", []string{".log"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extensionAccepted(tt.path, tt.exts); got != tt.want {
				t.Errorf("extensionAccepted(%q, %v) = %t, want %t", tt.path, tt.exts, got, tt.want)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while configPath from t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s (canon %s), want %s (canon %s)", resolved, resolvedCanon, configPath, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}
