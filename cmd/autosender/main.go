package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/autosender/autosender/internal/log"
	"github.com/autosender/autosender/internal/model"
	"github.com/autosender/autosender/internal/worker"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var (
	userConfigPath string // /default/config/path/autosender on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	logSink        io.Closer

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "autosender")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is autosender.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initAutosender
	workerCmd.PersistentPreRunE = initWorker
	cobra.OnFinalize(func() {
		if logSink != nil {
			_ = logSink.Close()
		}
	})

	addRunFlags(runCmd.Flags(), runViper)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("autosender failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "autosender",
	Short:        "Supervisor of a message automation worker",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run starts the automation worker with the configured job and follows it",
	RunE:  doRun,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "resolve prints the worker candidates and the one which would be used",
	RunE:  doResolve,
}

var workerCmd = &cobra.Command{
	Use:    worker.DryRunCommand + " <job json>",
	Short:  "internal command",
	RunE:   doWorker,
	Hidden: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of an autosender",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("autosender: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:     %s\n", configPath)
		}
		fmt.Printf("autosender: %s\n", info.Main.Version)
		fmt.Printf("go:         %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:     %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:       %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:      %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initAutosender(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("AUTOSENDERCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{".", userConfigPath} {
			path := filepath.Join(d, "autosender.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "autosender.yaml")
		if err := storeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		cfg, err := model.LoadConfig(f)
		if err != nil {
			for _, d := range model.ConfigErrDetails(err) {
				slog.Error("invalid configuration", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
		config = *cfg
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		verbose := true
		config.Service.Verbose = &verbose
	}

	sink := model.LogStderr
	if config.Service.Log != nil {
		sink = *config.Service.Log
	}
	if err := initLogging(sink, config.Service.Verbose != nil && *config.Service.Verbose); err != nil {
		return err
	}

	slog.Debug("autosender run", "configPath", configPath)
	slog.Debug("autosender run", "config", config)
	return nil
}

// initWorker sets up logging of the _worker command: stdout is reserved for
// events, so logs always go to stderr and no configuration is read.
func initWorker(cmd *cobra.Command, _ []string) error {
	return initLogging(log.SinkStderr, flagVerbose)
}

func initLogging(sink string, verbose bool) error {
	w, err := log.Open(sink)
	if err != nil {
		return err
	}
	logSink = w
	slog.SetDefault(log.New(verbose, w))
	return nil
}

func storeConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
