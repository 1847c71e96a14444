package main

import (
	"flag"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/cndeng/ramfs/config"
	"github.com/cndeng/ramfs/internal/util"
	"github.com/cndeng/ramfs/server"
)

func main() {
	// Parse command line arguments
	var (
		configPath string
		verbose    int
		umount     bool
	)
	flag.StringVar(&configPath, "config", "", "Path to config file (yaml or json)")
	flag.StringVar(&configPath, "c", "", "--config (shorthand)")
	flag.BoolVar(&umount, "umount", false,
		"Unmount the fs first if needed before mounting again. Useful for debuggers that don't exit properly.")
	flag.BoolVar(&umount, "u", false, "--umount (shorthand)")
	flag.IntVar(&verbose, "verbose", 3, "Log verbosity level between 1 (error) and 5 (trace). Default is 3 (info).")
	flag.IntVar(&verbose, "v", 3, "--verbose (shorthand)")
	flag.Parse()

	// Initialize logger
	if verbose < 1 {
		verbose = 1
	}
	if verbose > 5 {
		verbose = 5
	}
	logLvls := [5]util.LogLevel{util.ErrorLevel, util.WarnLevel, util.InfoLevel, util.DebugLevel, util.TraceLevel}
	logLvl := logLvls[verbose-1]
	util.InitializeLogger(logLvl)
	logger := util.GetLogger("main")

	mnt := flag.Arg(0)
	logger.Info().Int("verbose", verbose).Str("mnt", mnt).Msg("ramfs server initializing")
	// Check if mount point is provided
	if mnt == "" {
		logger.Fatal().Msg("Mount point not specified; it must be passed as the argument")
	}
	// Try unmount if requested
	if umount { // send cli command
		cmd := exec.Command("fusermount", "-u", mnt)
		// we ignore error here if not already mounted
		cmd.Run() // nolint:errcheck
	}

	// Init the fs
	cfg := config.NewConfig(&config.ConfigOverride{
		LogLvl: &logLvl,
	})
	if configPath != "" {
		override, err := config.LoadConfigOverrideFile(configPath)
		if err != nil {
			logger.Fatal().Err(err).Str("config", configPath).Msg("Failed to load config file")
		}
		cfg.Merge(override)
	}

	fs := server.New(cfg)

	// Serve
	if err := fs.Serve(mnt); err != nil {
		logger.Fatal().Err(err).Msg("Failed to mount filesystem")
	}

	// Setup signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	logger.Info().Str("mountpoint", mnt).Msg("Filesystem mounted successfully")

	// Wait for termination signal
	sig := <-signalChan
	logger.Info().Str("signal", sig.String()).Msg("Received signal, unmounting filesystem")

	// Unmount the filesystem
	if err := fs.Unmount(); err != nil {
		logger.Error().Err(err).Msg("Failed to unmount filesystem")
	} else {
		logger.Info().Msg("Filesystem unmounted successfully")
	}
}
