// Command sturdr runs the software GNSS receiver over recorded or simulated
// samples and publishes its solutions.
package main

import (
	"log"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rjboer/GoGNSS/internal/config"
	"github.com/rjboer/GoGNSS/internal/logging"
)

func main() {
	if err := newRootCmd(os.LookupEnv).Execute(); err != nil {
		log.Fatalf("sturdr: %v", err)
	}
}

type lookupFunc func(string) (string, bool)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	lookup     lookupFunc
}

func newRootCmd(lookup lookupFunc) *cobra.Command {
	g := &globalOptions{lookup: lookup}
	root := &cobra.Command{
		Use:           "sturdr",
		Short:         "Software GNSS receiver: acquisition, tracking and navigation from IF samples",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", envString(lookup, "STURDR_CONFIG", ""), "YAML configuration file")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level (debug|info|warn|error), overrides the config file")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format (text|json), overrides the config file")

	root.AddCommand(
		newRunCmd(g),
		newAcquireCmd(g),
		newDumpLogCmd(),
		newDiscoverCmd(),
	)
	return root
}

// loadConfig reads the configuration file (or the defaults), then applies
// environment overrides. Flag overrides are applied by the caller.
func (g *globalOptions) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return config.Config{}, err
		}
	}
	applyEnv(&cfg, g.lookup)
	if g.logLevel != "" {
		cfg.General.LogLevel = g.logLevel
	}
	if g.logFormat != "" {
		cfg.General.LogFormat = g.logFormat
	}
	return cfg, nil
}

// logger builds the process logger from cfg and installs it as the default.
func (g *globalOptions) logger(cfg config.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.General.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.General.LogFormat)
	if err != nil {
		return nil, err
	}
	l := logging.New(level, format, os.Stderr)
	logging.SetDefault(l)
	return l, nil
}

func applyEnv(cfg *config.Config, lookup lookupFunc) {
	if lookup == nil {
		return
	}
	cfg.General.InFile = envString(lookup, "STURDR_IN_FILE", cfg.General.InFile)
	cfg.General.OutFolder = envString(lookup, "STURDR_OUT_FOLDER", cfg.General.OutFolder)
	cfg.General.MsToProcess = envInt(lookup, "STURDR_MS_TO_PROCESS", cfg.General.MsToProcess)
	cfg.General.LogLevel = envString(lookup, "STURDR_LOG_LEVEL", cfg.General.LogLevel)
	cfg.RFSignal.SampFreq = envFloat(lookup, "STURDR_SAMP_FREQ", cfg.RFSignal.SampFreq)
	cfg.RFSignal.IntmdFreq = envFloat(lookup, "STURDR_INTMD_FREQ", cfg.RFSignal.IntmdFreq)
	cfg.Channels.MaxChannels = envInt(lookup, "STURDR_MAX_CHANNELS", cfg.Channels.MaxChannels)
	cfg.Telemetry.WebAddr = envString(lookup, "STURDR_WEB_ADDR", cfg.Telemetry.WebAddr)
}

func envFloat(lookup lookupFunc, key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup lookupFunc, key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup lookupFunc, key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}
