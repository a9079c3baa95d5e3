// Package cli implements the mammo-deid command line.
package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mammo-deid/internal/config"
)

// app is the state shared by every command of one invocation.
type app struct {
	v        *viper.Viper
	cfgFile  string
	logLevel string
	log      zerolog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{v: config.New(), log: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "mammo-deid",
		Short: "De-identify mammography DICOM studies",
		Long: `mammo-deid applies a de-identification recipe to DICOM files.

Every patient gets a reproducible pseudonym UID and date offset derived from
the salt. Keep the salt and the ledger file secret: with them, pseudonyms can
be linked back to patients.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd.ErrOrStderr(), a.logLevel)
			if err != nil {
				return err
			}
			a.log = log
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ./mammo-deid.yaml when present)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	root.AddCommand(
		newRunCmd(a),
		newRecipeCmd(a),
		newRuleCmd(a),
		newUIDCmd(a),
		newShiftCmd(),
	)
	return root
}

func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q", level)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger(), nil
}

// bind maps viper keys onto the flags of cmd. Keys are bound at execution
// time because several commands share them.
func (a *app) bind(cmd *cobra.Command, flags map[string]string) error {
	for key, name := range flags {
		if err := a.v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func (a *app) loadConfig(cmd *cobra.Command, flags map[string]string) (*config.Config, error) {
	if err := a.bind(cmd, flags); err != nil {
		return nil, err
	}
	return config.Load(a.v, a.cfgFile)
}
