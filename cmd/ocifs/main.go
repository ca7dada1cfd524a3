// Command ocifs browses and mounts OCI Object Storage as a filesystem.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ocifs/ocifs-go/internal/config"
	"github.com/ocifs/ocifs-go/internal/filesystem"
)

func main() {
	if err := newRootCommand(&app{}).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// globalOptions are the flags every subcommand accepts. Each one overrides
// the matching config value only when set on the command line.
type globalOptions struct {
	configPath  string
	backend     string
	region      string
	namespace   string
	endpoint    string
	passwdFile  string
	logLevel    string
	logFormat   string
	metricsAddr string
	blockSize   int64
}

func addGlobalFlags(flags *pflag.FlagSet, o *globalOptions) {
	flags.StringVar(&o.configPath, "config", "", "Path to the YAML config file (default $OCIFS_CONFIG)")
	flags.StringVar(&o.backend, "backend", "", "Object store backend: oci, memory, postgres or mongodb")
	flags.StringVar(&o.region, "region", "", "OCI region, e.g. us-ashburn-1")
	flags.StringVar(&o.namespace, "namespace", "", "Default object storage namespace")
	flags.StringVar(&o.endpoint, "endpoint", "", "Object storage endpoint URL, overriding the regional one")
	flags.StringVar(&o.passwdFile, "passwd-file", "", "File holding ACCESS_KEY:SECRET_KEY")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.StringVar(&o.logFormat, "log-format", "", "Log format: text or json")
	flags.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.Int64Var(&o.blockSize, "block-size", 0, "Upload block size in bytes")
}

// apply copies the flags that were set onto cfg.
func (o *globalOptions) apply(flags *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("backend", &cfg.Backend, o.backend)
	set("region", &cfg.Region, o.region)
	set("namespace", &cfg.Namespace, o.namespace)
	set("endpoint", &cfg.Endpoint, o.endpoint)
	set("passwd-file", &cfg.Credentials.PasswdFile, o.passwdFile)
	set("log-level", &cfg.Log.Level, o.logLevel)
	set("log-format", &cfg.Log.Format, o.logFormat)
	set("metrics-addr", &cfg.MetricsAddr, o.metricsAddr)
	if flags.Changed("block-size") {
		cfg.Upload.BlockSize = o.blockSize
	}
}

// app carries what the subcommands share. Tests fill in fsys beforehand
// to skip the wiring.
type app struct {
	opts   globalOptions
	cfg    *config.Config
	fsys   *filesystem.Filesystem
	logger *logrus.Logger
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ocifs",
		Short:         "Browse and mount OCI Object Storage as a filesystem",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	addGlobalFlags(root.PersistentFlags(), &a.opts)

	root.AddCommand(
		newLsCommand(a),
		newInfoCommand(a),
		newCatCommand(a),
		newPutCommand(a),
		newGetCommand(a),
		newRmCommand(a),
		newMkdirCommand(a),
		newRmdirCommand(a),
		newTouchCommand(a),
		newCpCommand(a),
		newMvCommand(a),
		newDuCommand(a),
		newMountCommand(a),
	)
	return root
}

// setup loads the configuration and builds the filesystem once per run.
func (a *app) setup(cmd *cobra.Command) error {
	if a.fsys != nil {
		return nil
	}
	cfg, err := config.Load(a.opts.configPath)
	if err != nil {
		return err
	}
	a.opts.apply(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	a.logger, err = newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.fsys, err = buildFilesystem(cmd.Context(), cfg, a.logger)
	return err
}

func newLogger(cfg config.LogConfig, out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)
	switch cfg.Format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	return logger, nil
}
