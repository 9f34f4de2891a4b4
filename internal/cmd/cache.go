package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheNamespace string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and prune the durable result cache",
}

var cacheListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List durable cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := fleetFromConfig(cmd.Context())
		if err != nil {
			return err
		}
		defer f.Close()

		fm, err := formatter()
		if err != nil {
			return err
		}

		entries, err := f.cache.List(cmd.Context(), cacheNamespace)
		if err != nil {
			return err
		}
		out, err := fm.FormatEntries(entries)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
		return err
	},
}

var cacheRemoveCmd = &cobra.Command{
	Use:     "rm <namespace> <key>",
	Aliases: []string{"remove"},
	Short:   "Remove one cache entry",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := fleetFromConfig(cmd.Context())
		if err != nil {
			return err
		}
		defer f.Close()

		removed, err := f.cache.Invalidate(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no cache entry for %s/%s", args[0], args[1])
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %s/%s\n", args[0], args[1])
		return err
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheRemoveCmd)

	cacheListCmd.Flags().StringVarP(&cacheNamespace, "namespace", "n", "", "only list this namespace")
}
