// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-sast/internal/config"
	"github.com/xkilldash9x/scalpel-sast/internal/observability"
)

// viperKeyAnnotation marks a flag that overrides a configuration key.
const viperKeyAnnotation = "viper_key"

// app carries the state shared by every command of one invocation.
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	logger  *zap.Logger
}

// NewRootCommand builds a fresh command tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "scalpel-sast",
		Short:         "Scalpel SAST finds vulnerable patterns in source code.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./scalpel.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "scalpel-sast version %s\n" .Version}}`)

	rootCmd.AddCommand(
		newScanCmd(a),
		newQueryCmd(a),
		newRulesCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the CLI with ctx, which is expected to be cancelled on SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	observability.Sync()
	return err
}

// initialize loads the config file, environment and flag overrides, then
// sets up the global logger.
func (a *app) initialize(cmd *cobra.Command) error {
	config.SetDefaults(a.v)
	config.BindEnv(a.v)

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigName("scalpel")
		a.v.SetConfigType("yaml")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys, ok := f.Annotations[viperKeyAnnotation]
		if !ok || len(keys) == 0 || bindErr != nil {
			return
		}
		bindErr = a.v.BindPFlag(keys[0], f)
	})
	if bindErr != nil {
		return fmt.Errorf("failed to bind flags: %w", bindErr)
	}

	cfg, err := config.NewConfigFromViper(a.v)
	if err != nil {
		observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "scalpel-sast"})
		return err
	}
	a.cfg = cfg
	observability.InitializeLogger(cfg.Logger())
	a.logger = observability.GetLogger()
	a.logger.Debug("Configuration loaded", zap.String("version", Version), zap.String("config_file", a.v.ConfigFileUsed()))
	return nil
}

// bindFlag ties a flag to a configuration key so the flag wins when set.
func bindFlag(cmd *cobra.Command, flag, key string) {
	_ = cmd.Flags().SetAnnotation(flag, viperKeyAnnotation, []string{key})
}
