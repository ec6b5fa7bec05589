package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/opalhq/opal-runtime/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that config, workspace, and provider credentials are usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor()
		},
	}
}

func runDoctor() error {
	ok := true
	check := func(name string, err error) {
		if err != nil {
			fmt.Printf("[FAIL] %-20s %v\n", name, err)
			ok = false
			return
		}
		fmt.Printf("[ OK ] %s\n", name)
	}

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	check("config loads", err)
	if err != nil {
		return fmt.Errorf("doctor: config check failed")
	}

	workspace := cfg.WorkspacePath()
	if !filepath.IsAbs(workspace) {
		if abs, absErr := filepath.Abs(workspace); absErr == nil {
			workspace = abs
		}
	}
	check("workspace writable", checkWritable(workspace))

	dataDir := cfg.DataDirPath()
	check("data dir writable", checkWritable(dataDir))

	if cfg.Provider.APIKey == "" {
		check("anthropic api key", fmt.Errorf("no key in config or OPAL_ANTHROPIC_API_KEY"))
	} else {
		check("anthropic api key", nil)
	}

	if !ok {
		return fmt.Errorf("doctor: one or more checks failed")
	}
	return nil
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".opald-doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}

