package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zaikaman/forgedeploy/internal/cli"
	"github.com/zaikaman/forgedeploy/internal/flyctl"
	"github.com/zaikaman/forgedeploy/internal/learning"
	"github.com/zaikaman/forgedeploy/internal/orchestrator"
	"github.com/zaikaman/forgedeploy/internal/project"
	"github.com/zaikaman/forgedeploy/internal/repair"
)

var (
	deployTarget string
	deployRegion string
	deployOutput string
)

var deployCmd = &cobra.Command{
	Use:   "deploy <project-dir>",
	Short: "Deploy a generated project as a self-healing preview",
	Long: `Deploy loads the project directory, classifies its runtime, sanitizes
its manifests, and drives the retry loop until the preview is live or a
safety threshold stops it.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVar(&deployTarget, "target", "", "target identifier (defaults to the directory name)")
	deployCmd.Flags().StringVar(&deployRegion, "region", "", "deployment region (defaults to config fly.region)")
	deployCmd.Flags().StringVarP(&deployOutput, "output", "o", "text", "report format (text, json or yaml)")
	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	debug := viper.GetBool("debug")

	checker := cli.NewDependencyChecker(debug)
	if missing := checker.CheckMissing(); len(missing) > 0 {
		for _, dep := range missing {
			fmt.Fprintf(os.Stderr, "missing dependency: %s - %s\n", dep.Name, dep.Message)
		}
		return fmt.Errorf("required CLI tools are missing; run 'forgedeploy doctor'")
	}

	projectDir := args[0]
	fs, err := project.LoadDir(projectDir)
	if err != nil {
		return err
	}
	if fs.Len() == 0 {
		return fmt.Errorf("project directory %s contains no files", projectDir)
	}

	target := deployTarget
	if target == "" {
		abs, err := filepath.Abs(projectDir)
		if err != nil {
			abs = projectDir
		}
		target = filepath.Base(abs)
	}

	region := deployRegion
	if region == "" {
		region = viper.GetString("fly.region")
	}

	w := os.Stderr
	logf := func(format string, a ...any) {
		if debug {
			fmt.Fprintf(w, format+"\n", a...)
		}
	}

	executor := flyctl.NewExecutor(w,
		time.Duration(viper.GetInt("engine.deploy_timeout_minutes"))*time.Minute, debug)
	repairer := repair.NewClient(
		viper.GetString("repair.url"),
		viper.GetString("repair.api_key"),
		0, logf)

	learner, closeLearner, err := buildLearner(logf)
	if err != nil {
		fmt.Fprintf(w, "[engine] learning disabled: %v\n", err)
	}
	if closeLearner != nil {
		defer closeLearner()
	}

	engine := orchestrator.New(executor, repairer, learner, orchestrator.Config{
		MaxConsecutiveFailures: viper.GetInt("engine.max_consecutive_failures"),
		MaxSignatureRepeats:    viper.GetInt("engine.max_signature_repeats"),
		MaxAttempts:            viper.GetInt("engine.max_attempts"),
		Region:                 region,
	}, w)

	result := engine.Run(cmd.Context(), fs, target)

	if err := renderResult(result, deployOutput); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("deployment failed: %s", result.Error)
	}
	return nil
}

// buildLearner prefers the remote learning service and falls back to the
// local sqlite store.
func buildLearner(logf func(string, ...any)) (learning.Collaborator, func(), error) {
	if url := viper.GetString("learning.url"); url != "" {
		return learning.NewHTTPClient(url, viper.GetString("learning.api_key"), logf), nil, nil
	}
	path := viper.GetString("learning.db_path")
	if path == "" {
		path = learning.DefaultStorePath()
	}
	store, err := learning.OpenStore(path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func renderResult(result orchestrator.Result, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(result)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	default:
		if result.Success {
			fmt.Printf("deployed in %d attempt(s): %s\n", result.AttemptCount, result.PreviewURL)
		} else {
			fmt.Printf("failed after %d attempt(s): %s\n", result.AttemptCount, result.Error)
		}
	}
	return nil
}
