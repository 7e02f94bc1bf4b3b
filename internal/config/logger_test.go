package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{name: "json defaults", level: "info", format: "json"},
		{name: "debug level", level: "debug", format: "json"},
		{name: "console format", level: "warn", format: "console"},
		{name: "empty format falls back to json", level: "info", format: ""},
		{name: "invalid level", level: "banana", format: "json", wantErr: true},
		{name: "invalid format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set("logging.level", tt.level)
			v.Set("logging.format", tt.format)

			logger, err := NewLogger(v)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger: %v", err)
			}
			if logger == nil {
				t.Fatal("expected non-nil logger")
			}
		})
	}
}

func TestSub_MissingSectionReturnsEmptyConfig(t *testing.T) {
	c := New(viper.New())
	sub := c.Sub("plugins.nonexistent")
	if sub == nil {
		t.Fatal("Sub returned nil for missing section")
	}
	if sub.GetString("anything") != "" {
		t.Error("empty config section should return zero values")
	}
}
