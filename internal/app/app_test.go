package app

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oakmund/sprout/internal/config"
	"github.com/oakmund/sprout/pkg/engine/mock"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Companion: config.CompanionConfig{
			Name:          "Sprout",
			Persona:       "You are Sprout.",
			TeachMarkers:  []string{"teach:"},
			BaseAward:     1,
			BonusAward:    5,
			BaseThreshold: 100,
		},
		Engine: config.EngineConfig{
			EngineEntry: config.EngineEntry{Name: "mock"},
			TokenBudget: 4096,
		},
		Storage: config.StorageConfig{
			Backend: config.StorageFile,
			Path:    filepath.Join(t.TempDir(), "state.json"),
		},
	}
}

// runSession feeds input lines through a full App and returns the printed
// output. Run returns when the input is exhausted.
func runSession(t *testing.T, cfg *config.Config, eng *mock.Engine, input string) string {
	t.Helper()

	var out bytes.Buffer
	a, err := New(context.Background(), cfg, eng,
		WithInput(strings.NewReader(input)),
		WithOutput(&out),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	return out.String()
}

func TestApp_ChatTurn(t *testing.T) {
	eng := &mock.Engine{Response: "Hello, keeper!"}
	out := runSession(t, testConfig(t), eng, "hi there\nexit\n")

	if !strings.Contains(out, "Sprout: Hello, keeper!") {
		t.Errorf("output missing companion reply:\n%s", out)
	}
	if len(eng.GenerateCalls) != 1 {
		t.Errorf("Generate called %d times, want 1", len(eng.GenerateCalls))
	}
}

func TestApp_TeachingAnnouncement(t *testing.T) {
	eng := &mock.Engine{Response: "I did not know that!"}
	out := runSession(t, testConfig(t), eng, "teach: the moon orbits the earth\nexit\n")

	if !strings.Contains(out, "learned something new: +6 xp") {
		t.Errorf("output missing teaching announcement:\n%s", out)
	}
}

func TestApp_StatusCommand(t *testing.T) {
	eng := &mock.Engine{Response: "ok"}
	out := runSession(t, testConfig(t), eng, "hello\nstatus\nexit\n")

	if !strings.Contains(out, "level 1, 1/100 xp") {
		t.Errorf("status output wrong:\n%s", out)
	}
	// Status must not consume a turn.
	if len(eng.GenerateCalls) != 1 {
		t.Errorf("Generate called %d times, want 1 (status is not a turn)", len(eng.GenerateCalls))
	}
}

func TestApp_ResetCommand(t *testing.T) {
	cfg := testConfig(t)
	eng := &mock.Engine{Response: "ok"}
	out := runSession(t, cfg, eng, "teach: a fact\nreset\nstatus\nexit\n")

	if !strings.Contains(out, "has been reborn") {
		t.Errorf("missing reset acknowledgement:\n%s", out)
	}
	if !strings.Contains(out, "level 1, 0/100 xp") {
		t.Errorf("status after reset should show fresh state:\n%s", out)
	}
}

func TestApp_LevelUpAnnouncement(t *testing.T) {
	cfg := testConfig(t)
	cfg.Companion.BaseAward = 250
	eng := &mock.Engine{Response: "so much to learn"}
	out := runSession(t, cfg, eng, "hello\nexit\n")

	if !strings.Contains(out, "grew to level 2") {
		t.Errorf("missing level-up announcement:\n%s", out)
	}
}

func TestApp_EngineFailureKeepsRunning(t *testing.T) {
	eng := &mock.Engine{Err: context.DeadlineExceeded}
	out := runSession(t, testConfig(t), eng, "hello?\nstatus\nexit\n")

	if !strings.Contains(out, "try again") {
		t.Errorf("missing retry hint:\n%s", out)
	}
	if !strings.Contains(out, "level 1, 0/100 xp") {
		t.Errorf("failed turn should award nothing:\n%s", out)
	}
}

func TestApp_StatePersistsAcrossSessions(t *testing.T) {
	cfg := testConfig(t)
	eng := &mock.Engine{Response: "first session"}

	runSession(t, cfg, eng, "teach: something\nexit\n")

	eng2 := &mock.Engine{Response: "second session"}
	out := runSession(t, cfg, eng2, "status\nexit\n")

	if !strings.Contains(out, "level 1, 6/100 xp") {
		t.Errorf("second session should resume persisted state:\n%s", out)
	}
}

func TestApp_EOFExitsCleanly(t *testing.T) {
	eng := &mock.Engine{Response: "ok"}
	out := runSession(t, testConfig(t), eng, "hello\n")

	if !strings.Contains(out, "Goodbye.") {
		t.Errorf("EOF should end the session politely:\n%s", out)
	}
}
