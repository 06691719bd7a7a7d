package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sebastienb/LLMComp/internal/types"
)

func init() {
	rootCmd.AddCommand(runCmd, rerunCmd)
	runCmd.Flags().String("system", "", "system prompt for this run")
	runCmd.Flags().Float64("temperature", 0, "sampling temperature override")
	runCmd.Flags().Int("max-tokens", 0, "completion token limit override")
	runCmd.Flags().Float64("top-p", 0, "nucleus sampling override")
}

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Send a prompt to every active provider",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st := openStore(cfg)

		if system, _ := cmd.Flags().GetString("system"); cmd.Flags().Changed("system") {
			st.SetSystemPrompt(system)
		}
		settings := st.Settings()
		if cmd.Flags().Changed("temperature") {
			settings.Temperature, _ = cmd.Flags().GetFloat64("temperature")
		}
		if cmd.Flags().Changed("max-tokens") {
			settings.MaxTokens, _ = cmd.Flags().GetInt("max-tokens")
		}
		if cmd.Flags().Changed("top-p") {
			settings.TopP, _ = cmd.Flags().GetFloat64("top-p")
		}
		st.SetSettings(settings)

		prompt := strings.Join(args, " ")
		active := st.ActiveProviders()
		if len(active) == 0 {
			return fmt.Errorf("no active providers; add one with 'llmcomp provider add'")
		}

		sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		sp.Suffix = fmt.Sprintf(" querying %d providers...", len(active))
		sp.Start()

		coord := newCoordinator(cfg, st)
		req, err := coord.RunAll(cmd.Context(), prompt)
		sp.Stop()
		if err != nil {
			return err
		}

		printResults(req)
		return nil
	},
}

var rerunCmd = &cobra.Command{
	Use:   "rerun <provider>",
	Short: "Repeat the last prompt against one provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st := openStore(cfg)

		p, ok := st.FindProvider(args[0])
		if !ok {
			return fmt.Errorf("no provider matching %q", args[0])
		}

		sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		sp.Suffix = fmt.Sprintf(" rerunning %s...", p.Name)
		sp.Start()

		coord := newCoordinator(cfg, st)
		rec, err := coord.RerunProvider(cmd.Context(), p.ID)
		sp.Stop()
		if err != nil {
			return err
		}

		req, _ := st.CurrentRequest()
		req.Responses = []types.ResponseRecord{rec}
		printResults(req)
		return nil
	},
}

func printResults(req types.GenerationRequest) {
	header := color.New(color.Bold, color.FgCyan)
	meta := color.New(color.Faint)
	failed := color.New(color.FgRed)

	for i, rec := range req.Responses {
		if i > 0 {
			fmt.Println()
		}
		header.Fprintf(os.Stdout, "=== %s ===\n", rec.ProviderName)

		switch rec.Status {
		case types.StatusCompleted:
			fmt.Println(rec.Content)
			line := fmt.Sprintf("%.1fs", rec.ResponseTime.Seconds())
			if rec.TokenUsage != nil {
				line += fmt.Sprintf(" | %d tokens", rec.TokenUsage.TotalTokens)
			}
			if rec.Cost > 0 {
				line += fmt.Sprintf(" | ~$%.4f", rec.Cost)
			}
			meta.Fprintln(os.Stdout, line)
		case types.StatusError:
			failed.Fprintf(os.Stdout, "Failed: %s\n", rec.Error)
		default:
			failed.Fprintf(os.Stdout, "Unresolved status: %s\n", rec.Status)
		}
	}
}
