// stvm runs compiled Smalltalk bundles on the VM.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/KentBeck/LivingObjects-sub000/config"
	"github.com/KentBeck/LivingObjects-sub000/vm"
)

var log = commonlog.GetLogger("stvm.cli")

var (
	verbosity int
	configDir string
	colorMode string
)

var rootCmd = &cobra.Command{
	Use:           "stvm",
	Short:         "Smalltalk virtual machine",
	Long:          `stvm loads compiler bundles into a fresh VM and runs their entry method.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return applyColorMode(colorMode)
	},
}

func main() {
	rootCmd.Version = Version

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(disasmCmd)
	rootCmd.AddCommand(classesCmd)
	rootCmd.AddCommand(sampleCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (repeatable)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "directory to search for "+config.FileName+" (default: working directory)")
	rootCmd.PersistentFlags().StringVar(&colorMode, "color", "auto", "colorize output (auto|on|off)")

	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

// loadConfig finds the configuration and starts logging with it.
func loadConfig() (*config.Config, error) {
	dir := configDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dir = wd
	}
	cfg, err := config.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Verbosity
	if verbosity > level {
		level = verbosity
	}
	commonlog.Configure(level, cfg.LogFile())
	if cfg.Dir != "" {
		log.Debugf("using %s from %s", config.FileName, cfg.Dir)
	}
	return cfg, nil
}

// newVM loads the configuration and bootstraps a VM with it.
func newVM() (*vm.VM, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	v, err := vm.New(cfg.Options())
	if err != nil {
		return nil, fmt.Errorf("cannot start VM: %w", err)
	}
	return v, nil
}
