package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sebastienb/LLMComp/internal/state"
	"github.com/sebastienb/LLMComp/internal/types"
	"github.com/sebastienb/LLMComp/pkg/llm"
)

func init() {
	rootCmd.AddCommand(providerCmd)
	providerCmd.AddCommand(providerAddCmd, providerListCmd, providerRemoveCmd,
		providerEnableCmd, providerDisableCmd, providerTestCmd)

	providerAddCmd.Flags().String("name", "", "provider display name (required)")
	providerAddCmd.Flags().String("preset", "", "preset to start from: "+presetNames())
	providerAddCmd.Flags().String("dialect", "", "wire dialect: openai, anthropic, ollama, generic")
	providerAddCmd.Flags().String("url", "", "base URL")
	providerAddCmd.Flags().String("model", "", "model identifier")
	providerAddCmd.Flags().String("api-key", "", "API key (stored encrypted)")
	providerAddCmd.Flags().Int("timeout", 0, "per-request timeout in seconds")
	providerAddCmd.Flags().StringArray("header", nil, "extra header as Name:Value, repeatable")
	_ = providerAddCmd.MarkFlagRequired("name")
}

func presetNames() string {
	names := make([]string, 0, len(llm.Presets))
	for name := range llm.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// findProvider resolves an id or display name to a provider.
func findProvider(st *state.Store, key string) (types.Provider, error) {
	p, ok := st.FindProvider(key)
	if !ok {
		return types.Provider{}, fmt.Errorf("no provider matching %q", key)
	}
	return p, nil
}

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Manage providers",
}

var providerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a provider",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st := openStore(cfg)

		name, _ := cmd.Flags().GetString("name")
		presetName, _ := cmd.Flags().GetString("preset")
		dialectName, _ := cmd.Flags().GetString("dialect")
		baseURL, _ := cmd.Flags().GetString("url")
		model, _ := cmd.Flags().GetString("model")
		apiKey, _ := cmd.Flags().GetString("api-key")
		timeout, _ := cmd.Flags().GetInt("timeout")
		headers, _ := cmd.Flags().GetStringArray("header")

		p := types.Provider{Name: name, Active: true, TimeoutSeconds: timeout}

		if presetName != "" {
			preset, ok := llm.Presets[presetName]
			if !ok {
				return fmt.Errorf("unknown preset %q (have: %s)", presetName, presetNames())
			}
			p.Dialect = preset.Dialect
			p.BaseURL = preset.BaseURL
			p.Model = preset.Model
			p.RequiresAuth = preset.RequiresAuth
		}
		if dialectName != "" {
			d, err := llm.ParseDialect(dialectName)
			if err != nil {
				return err
			}
			p.Dialect = d
		}
		if baseURL != "" {
			p.BaseURL = baseURL
		}
		if model != "" {
			p.Model = model
		}
		for _, h := range headers {
			k, v, ok := strings.Cut(h, ":")
			if !ok {
				return fmt.Errorf("invalid header %q, want Name:Value", h)
			}
			if p.ExtraHeaders == nil {
				p.ExtraHeaders = map[string]string{}
			}
			p.ExtraHeaders[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}

		if apiKey != "" {
			p.APIKey = newCodec(cfg).Encrypt(apiKey)
		}

		added, err := st.AddProvider(p)
		if err != nil {
			return fmt.Errorf("add provider: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Provider %q added (%s).\n", added.Name, added.ID)
		return nil
	},
}

var providerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all providers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st := openStore(cfg)

		providers := st.Providers()
		if len(providers) == 0 {
			fmt.Println("No providers configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDIALECT\tURL\tMODEL\tACTIVE\tAUTH")
		for _, p := range providers {
			auth := "-"
			if p.APIKey != "" {
				auth = "key set"
			} else if p.RequiresAuth {
				auth = "MISSING"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\n",
				p.Name,
				p.Dialect,
				p.BaseURL,
				p.Model,
				p.Active,
				auth,
			)
		}
		return w.Flush()
	},
}

var providerRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st := openStore(cfg)

		p, err := findProvider(st, args[0])
		if err != nil {
			return err
		}
		if err := st.RemoveProvider(p.ID); err != nil {
			return fmt.Errorf("remove provider: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Provider %q removed.\n", p.Name)
		return nil
	},
}

var providerEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Include a provider in comparisons",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setActive(args[0], true) },
}

var providerDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Exclude a provider from comparisons",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setActive(args[0], false) },
}

func setActive(key string, active bool) error {
	cfg := loadConfig()
	st := openStore(cfg)

	p, err := findProvider(st, key)
	if err != nil {
		return err
	}
	if err := st.SetProviderActive(p.ID, active); err != nil {
		return err
	}
	verb := "disabled"
	if active {
		verb = "enabled"
	}
	fmt.Fprintf(os.Stdout, "Provider %q %s.\n", p.Name, verb)
	return nil
}

var providerTestCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Send a tiny request to verify connectivity and credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st := openStore(cfg)

		p, err := findProvider(st, args[0])
		if err != nil {
			return err
		}

		sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		sp.Suffix = fmt.Sprintf(" testing %s...", p.Name)
		sp.Start()

		coord := newCoordinator(cfg, st)
		rec, err := coord.TestConnection(cmd.Context(), p.ID)
		sp.Stop()

		if err != nil {
			color.Red("Connection to %q failed: %v", p.Name, err)
			return fmt.Errorf("connection test failed")
		}
		color.Green("Connection to %q OK (%.1fs).", p.Name, rec.ResponseTime.Seconds())
		return nil
	},
}
