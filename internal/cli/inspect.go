package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"mammo-deid/internal/config"
	"mammo-deid/internal/dateshift"
	"mammo-deid/internal/identity"
	"mammo-deid/internal/recipe"
)

func newRecipeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipe",
		Short: "Inspect de-identification recipes",
	}

	var list bool
	check := &cobra.Command{
		Use:   "check [file]",
		Short: "Validate a recipe and print its rules",
		Long: `Check parses a recipe table and reports the first format error. Without a
file the recipe from the configuration, or the built-in one, is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.recipePath(cmd, args)
			if err != nil {
				return err
			}
			r, err := recipe.LoadFile(path)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintf(w, "%s: %d rules OK\n", r.Source(), r.Len())
			if !r.HasCatchAll() {
				color.New(color.FgYellow).Fprintln(w, "WARNING: no catch-all rule, fields outside the recipe follow the unmapped policy")
			}
			if !list {
				return nil
			}

			headerfmt := color.New(color.FgGreen, color.Underline).SprintFunc()
			table := uitable.New()
			table.MaxColWidth = 50
			table.AddRow(headerfmt("PATTERN"), headerfmt("KIND"), headerfmt("ACTION"), headerfmt("VALUE"), headerfmt("NAME"))
			for _, rule := range r.Rules() {
				table.AddRow(rule.Pattern.String(), rule.Pattern.Kind().String(), rule.Action.String(), rule.Param, rule.Name)
			}
			fmt.Fprintln(w, table)
			return nil
		},
	}
	check.Flags().BoolVarP(&list, "list", "l", false, "print every rule")

	cmd.AddCommand(check)
	return cmd
}

func newRuleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule <tag>...",
		Short: "Print the rule a recipe applies to DICOM tags",
		Example: `  mammo-deid rule "(0010,0010)" 0x60003000
  mammo-deid rule 0020000d --recipe site.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.recipePath(cmd, nil)
			if err != nil {
				return err
			}
			r, err := recipe.LoadFile(path)
			if err != nil {
				return err
			}

			table := uitable.New()
			var unmapped int
			for _, arg := range args {
				t, err := recipe.ParseIdentifier(arg)
				if err != nil {
					return err
				}
				rule, err := r.Match(t)
				var ue *recipe.UnmappedFieldError
				switch {
				case errors.As(err, &ue):
					table.AddRow(recipe.FormatTag(t), color.RedString("UNMAPPED"), "", "")
					unmapped++
					continue
				case err != nil:
					return err
				}
				table.AddRow(recipe.FormatTag(t), rule.Action.String(), rule.Pattern.String(), rule.Param)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			if unmapped > 0 {
				return fmt.Errorf("%d tags are not covered by %s", unmapped, r.Source())
			}
			return nil
		},
	}
	cmd.Flags().String("recipe", "", "recipe file (default built-in mammography recipe)")
	return cmd
}

func newUIDCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uid <patient key>",
		Short: "Print the pseudonym UID generated for a patient key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd, map[string]string{"salt": "salt", "org_root": "org-root"})
			if err != nil {
				return err
			}
			uid, err := identity.GenDicomUID(args[0], cfg.Salt, cfg.OrgRoot)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uid)
			return nil
		},
	}
	cmd.Flags().StringP("salt", "k", "", "secret salt")
	cmd.Flags().String("org-root", config.DefaultOrgRoot, "UID root")
	return cmd
}

func newShiftCmd() *cobra.Command {
	var vr string
	cmd := &cobra.Command{
		Use:   "shift <value> <days>",
		Short: "Shift a DA or DT value back by a number of days",
		Example: `  mammo-deid shift 20240315 90
  mammo-deid shift 20240315-20240401 90
  mammo-deid shift --vr DT 20240315083000 90`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("days must be an integer: %w", err)
			}
			shifted, err := dateshift.ShiftValue(vr, args[0], days)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), shifted)
			return nil
		},
	}
	cmd.Flags().StringVar(&vr, "vr", "DA", "value representation, DA or DT")
	return cmd
}

// recipePath returns the recipe named by args, the --recipe flag or the
// configuration, in that order. Empty means the built-in recipe.
func (a *app) recipePath(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if f := cmd.Flags().Lookup("recipe"); f != nil && f.Changed {
		return f.Value.String(), nil
	}
	cfg, err := a.loadConfig(cmd, nil)
	if err != nil {
		return "", err
	}
	return cfg.Recipe, nil
}
