package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/s4/internal/harness"
	"github.com/samcharles93/s4/internal/logger"
	"github.com/samcharles93/s4/internal/s4"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
server_address: 0.0.0.0:9000
state_limit: 16
layer:
  d_model: 6
  d_state: 16
  liquid_degree: 2
  hyper_act: sigmoid
`)
	cfg, err := loadConfig(path, true)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.ServerAddress != "0.0.0.0:9000" || *cfg.StateLimit != 16 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if *cfg.Layer.DModel != 6 || *cfg.Layer.LiquidDegree != 2 || *cfg.Layer.HyperAct != "sigmoid" {
		t.Fatalf("unexpected layer section %+v", cfg.Layer)
	}
	if cfg.Layer.Shift != nil {
		t.Fatal("unset field should stay nil")
	}
}

func TestLoadConfigMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := loadConfig(missing, true); err == nil {
		t.Fatal("explicit missing config should fail")
	}
	cfg, err := loadConfig(missing, false)
	if err != nil {
		t.Fatalf("implicit missing config: %v", err)
	}
	if cfg.Layer.DModel != nil {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
	if _, err := loadConfig(writeConfig(t, "layer: [1, 2"), true); err == nil {
		t.Fatal("invalid yaml should fail")
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "layer:\n  d_model: 6\n  d_state: 16\n  transposed: false\n"), true)
	if err != nil {
		t.Fatal(err)
	}

	var dst s4.Config
	cmd := &cli.Command{
		Name:  "test",
		Flags: layerFlags(&dst),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyLayerConfig(c, cfg.Layer, &dst)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"test", "--d-state", "8"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if dst.DState != 8 {
		t.Errorf("d_state = %d, want flag value 8", dst.DState)
	}
	if dst.DModel != 6 {
		t.Errorf("d_model = %d, want file value 6", dst.DModel)
	}
	if dst.Transposed {
		t.Error("transposed should come from the file")
	}
	if dst.Activation != "gelu" || dst.DTMax != 0.1 {
		t.Errorf("defaults lost: activation=%q dt_max=%g", dst.Activation, dst.DTMax)
	}
}

func runApp(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	app := &cli.Command{
		Name:     "s4",
		Writer:   &buf,
		Commands: []*cli.Command{checkCmd(), initCmd(), inspectCmd()},
	}
	ctx := logger.WithContext(context.Background(), logger.Discard())
	if err := app.Run(ctx, append([]string{"s4"}, args...)); err != nil {
		t.Fatalf("s4 %s: %v", strings.Join(args, " "), err)
	}
	return buf.String()
}

func TestCheckCommand(t *testing.T) {
	out := runApp(t, "check", "--d-model", "2", "--d-state", "4", "--seed", "3", "--json")
	var report harness.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report %q: %v", out, err)
	}
	if !report.Passed || report.Config.DModel != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestInitThenInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layer.safetensors")
	runApp(t, "init", "--d-model", "3", "--d-state", "4", "--ln", "--out", path)

	out := runApp(t, "inspect", path)
	for _, want := range []string{"d_model:       3", "kernel.log_dt", "kernel.C", "norm.weight", "output_linear.weight"} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}
}
