package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zaikaman/forgedeploy/internal/learning"
)

var (
	reportTarget string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "List captured deployment failures from the local learning store",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.GetString("learning.db_path")
		if path == "" {
			path = learning.DefaultStorePath()
		}
		store, err := learning.OpenStore(path)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.ListFailures(cmd.Context(), reportTarget)
		if err != nil {
			return err
		}

		switch reportOutput {
		case "json":
			data, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
		case "yaml":
			data, err := yaml.Marshal(records)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
		default:
			if len(records) == 0 {
				fmt.Println("no captured failures")
				return nil
			}
			for _, r := range records {
				state := "open"
				if r.Resolved {
					state = "resolved"
				}
				fmt.Printf("%s  %-8s  %-12s  attempt %d  %s\n", r.CreatedAt, state, r.Target, r.Attempt, r.Error)
			}
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportTarget, "target", "", "filter by target identifier")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "text", "output format (text, json or yaml)")
	rootCmd.AddCommand(reportCmd)
}
