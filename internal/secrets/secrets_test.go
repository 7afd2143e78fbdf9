package secrets

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	secretFile := filepath.Join(dir, "app_password")
	if err := os.WriteFile(secretFile, []byte("  from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "file wins over env",
			env: map[string]string{
				"TEST_SECRET_FILE": secretFile,
				"TEST_SECRET":      "from-env",
			},
			want: "from-file",
		},
		{
			name: "env when no file",
			env:  map[string]string{"TEST_SECRET": "from-env"},
			want: "from-env",
		},
		{
			name: "fallback when unset",
			env:  map[string]string{},
			want: "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Resolve("TEST_SECRET", "default")
			if err != nil {
				t.Fatalf("Resolve() returned %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveUnreadableFile(t *testing.T) {
	t.Setenv("TEST_SECRET_FILE", filepath.Join(t.TempDir(), "missing"))

	if _, err := Resolve("TEST_SECRET", ""); err == nil {
		t.Error("Resolve() returned nil error for a missing secret file")
	}
	if got := ResolveOptional("TEST_SECRET", "default"); got != "default" {
		t.Errorf("ResolveOptional() = %q, want the fallback", got)
	}
}
