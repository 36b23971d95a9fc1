package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zaikaman/forgedeploy/internal/cli"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the external CLI tools the engine needs are installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		checker := cli.NewDependencyChecker(viper.GetBool("debug"))

		allOK := true
		for _, dep := range checker.CheckAll() {
			if dep.Installed {
				version := dep.Version
				if version == "" {
					version = "unknown version"
				}
				fmt.Printf("ok    %s (%s)\n", dep.Name, version)
				continue
			}
			allOK = false
			fmt.Printf("miss  %s - %s\n", dep.Name, dep.Message)
		}
		if !allOK {
			return fmt.Errorf("some dependencies are missing")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
