package scheduler

import (
	"testing"

	"github.com/expr-lang/expr"
)

func TestBuildEventFilterExpr_NoConstraints(t *testing.T) {
	got := buildEventFilterExpr(eventTriggerConfig{})
	if got != "true" {
		t.Errorf("buildEventFilterExpr() = %q, want %q", got, "true")
	}
}

func TestBuildEventFilterExpr_EventTypesOnly(t *testing.T) {
	cfg := eventTriggerConfig{EventTypes: []string{"post.published", "post.failed"}}
	got := buildEventFilterExpr(cfg)
	want := `true && EventType in ["post.published", "post.failed"]`
	if got != want {
		t.Errorf("buildEventFilterExpr() = %q, want %q", got, want)
	}
}

func TestBuildEventFilterExpr_CompilesAndEvaluates(t *testing.T) {
	cfg := eventTriggerConfig{
		EventTypes: []string{"post.published", "post.failed"},
		Statuses:   []string{"success", "partial"},
	}
	program, err := expr.Compile(buildEventFilterExpr(cfg), expr.Env(eventFilterEnv{}))
	if err != nil {
		t.Fatalf("expr.Compile() error: %v", err)
	}

	tests := []struct {
		name string
		env  eventFilterEnv
		want bool
	}{
		{"matches both", eventFilterEnv{EventType: "post.published", Status: "success"}, true},
		{"wrong event type", eventFilterEnv{EventType: "post.created", Status: "success"}, false},
		{"wrong status", eventFilterEnv{EventType: "post.failed", Status: "queued"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := expr.Run(program, tt.env)
			if err != nil {
				t.Fatalf("expr.Run() error: %v", err)
			}
			if out != tt.want {
				t.Errorf("expr.Run() = %v, want %v", out, tt.want)
			}
		})
	}
}

func TestToStringList(t *testing.T) {
	tests := []struct {
		name  string
		items []string
		want  string
	}{
		{"empty", nil, "[]"},
		{"single", []string{"a"}, `["a"]`},
		{"multiple preserves order", []string{"a", "b", "c"}, `["a", "b", "c"]`},
		{"quotes embedded values", []string{`has "quotes"`}, `["has \"quotes\""]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toStringList(tt.items); got != tt.want {
				t.Errorf("toStringList() = %q, want %q", got, tt.want)
			}
		})
	}
}
