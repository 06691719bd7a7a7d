package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/sebastienb/LLMComp/internal/types"
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyClearCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse past comparisons",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List past comparisons, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st := openStore(cfg)

		entries := st.History()
		if len(entries) == 0 {
			fmt.Println("No history yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTIME\tPROVIDERS\tPROMPT")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				e.ID,
				e.Timestamp.Format("2006-01-02 15:04"),
				len(e.Responses),
				truncate(e.Prompt, 60),
			)
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one past comparison in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st := openStore(cfg)

		entry, ok := st.HistoryEntry(types.RequestID(args[0]))
		if !ok {
			return fmt.Errorf("no history entry %q", args[0])
		}

		fmt.Fprintf(os.Stdout, "Prompt: %s\n", entry.Prompt)
		if entry.SystemPrompt != "" {
			fmt.Fprintf(os.Stdout, "System: %s\n", entry.SystemPrompt)
		}
		fmt.Fprintf(os.Stdout, "Time:   %s\n\n", entry.Timestamp.Format("2006-01-02 15:04:05"))
		printResults(entry)
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st := openStore(cfg)

		st.ClearHistory()
		fmt.Println("History cleared.")
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
