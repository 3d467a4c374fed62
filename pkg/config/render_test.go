package config

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestConfigString_RendersYAML(t *testing.T) {
	cfg := validConfig()
	cfg.Scheduler.Tasks = []SchedulerTaskConfig{{Name: "retention", Schedule: "0 3 * * *", Action: "cleanup"}}
	cfg.StatusCheck.Password = "hunter2"

	rendered := cfg.String()

	var tree map[string]any
	if err := yaml.Unmarshal([]byte(rendered), &tree); err != nil {
		t.Fatalf("output is not yaml: %v\n%s", err, rendered)
	}
	queue, ok := tree["queue"].(map[string]any)
	if !ok || queue["lease_expiry"] != "1h0m0s" {
		t.Fatalf("expected duration rendered as text, got %#v", tree["queue"])
	}
	scheduler := tree["scheduler"].(map[string]any)
	tasks, ok := scheduler["tasks"].([]any)
	if !ok || len(tasks) != 1 {
		t.Fatalf("expected one task, got %#v", scheduler["tasks"])
	}
	if strings.Contains(rendered, "hunter2") {
		t.Fatalf("statuscheck password leaked:\n%s", rendered)
	}
	if strings.Contains(rendered, "secret@") {
		t.Fatalf("url password leaked:\n%s", rendered)
	}
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@h:5432/db", "postgres://u:xxxxx@h:5432/db"},
		{"redis://localhost:6379/0", "redis://localhost:6379/0"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := redactURL(tt.in); got != tt.want {
			t.Fatalf("redactURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
