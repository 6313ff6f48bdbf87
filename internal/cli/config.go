package cli

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/herald/internal/config"
	"github.com/mrz1836/herald/internal/output"
	heralderr "github.com/mrz1836/herald/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var configForce bool

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write config.yaml with the built-in networks into the herald home directory.

An existing file is kept unless --force is given.`,
	RunE: runConfigInit,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing configuration file")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	path := config.Path(config.ExpandHome(cc.Cfg.Home))

	if _, err := os.Stat(path); err == nil && !configForce {
		return heralderr.WithSuggestion(
			heralderr.WithDetail(heralderr.ErrInvalidInput, "configuration already exists: "+path),
			"pass --force to overwrite it",
		)
	}

	fresh := config.Defaults()
	fresh.Home = cc.Cfg.Home
	if err := config.Save(fresh, path); err != nil {
		return err
	}
	cc.Log.Debug("wrote configuration to %s", path)
	return output.FormatSuccess(cmd.OutOrStdout(), "Configuration written to "+path, cc.Fmt.Format())
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := GetCmdContext(cmd)
	if cc.Fmt.IsJSON() {
		return cc.Fmt.Print(cc.Cfg)
	}
	data, err := yaml.Marshal(cc.Cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
