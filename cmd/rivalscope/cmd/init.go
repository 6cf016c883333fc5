package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/rivalscope/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write a commented configuration file to ./.rivalscope.yaml, or to the
user configuration directory with --global. Existing files are kept unless
--force is given.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var (
	initForce  bool
	initGlobal bool
	initPath   string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	initCmd.Flags().BoolVar(&initGlobal, "global", false, "write ~/.config/rivalscope/config.yaml")
	initCmd.Flags().StringVar(&initPath, "path", "", "write to this path instead")
}

func runInit(cmd *cobra.Command, _ []string) error {
	path := initPath
	switch {
	case path != "":
	case initGlobal:
		p, err := config.UserConfigPath()
		if err != nil {
			return err
		}
		path = p
	default:
		path = config.ProjectConfigFile
	}

	wrote, err := config.WriteDefaultConfig(path, initForce)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !wrote {
		fmt.Fprintf(out, "%s already exists (use --force to overwrite)\n", path)
		return nil
	}
	fmt.Fprintf(out, "wrote %s\n", path)
	return nil
}
