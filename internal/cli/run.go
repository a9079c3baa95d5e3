package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"mammo-deid/internal/anonymizer"
	"mammo-deid/internal/config"
	dcm "mammo-deid/internal/dicom"
	"mammo-deid/internal/identity"
	"mammo-deid/internal/progress"
	"mammo-deid/internal/recipe"
)

const (
	progressFileName = ".progress.json"
	errorLogName     = "errors.log"
	reportName       = "report.csv"
	ledgerName       = "patient_ledger.json"
)

// runOptions are the settings of one run that are not part of the config
// file.
type runOptions struct {
	Input      string
	Output     string
	Report     string
	XLSX       string
	Retry      bool
	DryRun     bool
	NoProgress bool
}

var runFlags = map[string]string{
	"salt":         "salt",
	"org_root":     "org-root",
	"recipe":       "recipe",
	"workers":      "workers",
	"threshold":    "threshold",
	"unmapped":     "unmapped",
	"identities":   "identity",
	"erase_outdir": "erase-outdir",
	"recursive":    "recursive",
	"log_file":     "log-file",
	"ledger":       "ledger",
}

func newRunCmd(a *app) *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run <input>",
		Short: "De-identify every DICOM file under a folder",
		Long: `Run de-identifies every DICOM file under <input> and writes the results to
<output>/<pseudonym>/, mirroring the input layout. Existing files are never
overwritten.

The salt decides every pseudonym and date offset. Use the same salt for every
batch of the same cohort, otherwise one patient gets several pseudonyms.`,
		Example: `  # Preview patients without writing anything
  mammo-deid run /data/screening -k YOUR_SALT -n

  # De-identify with a custom recipe
  mammo-deid run /data/screening -k YOUR_SALT --recipe site.yaml -o /export

  # Retry files that failed in a previous run
  mammo-deid run /data/screening -k YOUR_SALT --retry`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd, runFlags)
			if err != nil {
				return err
			}
			opts.Input = args[0]
			return a.run(cmd.Context(), cmd.OutOrStdout(), opts, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Output, "output", "o", "", "output folder (default <input>/anonymized)")
	f.StringVar(&opts.Report, "report", "", "CSV report path (default <output>/report.csv)")
	f.StringVar(&opts.XLSX, "xlsx", "", "also write the report as an Excel workbook")
	f.BoolVar(&opts.Retry, "retry", false, "retry files that failed in a previous run")
	f.BoolVarP(&opts.DryRun, "dry-run", "n", false, "list patients and pseudonyms, write nothing")
	f.BoolVar(&opts.NoProgress, "no-progress", false, "hide the progress bar")

	f.StringP("salt", "k", "", "secret salt for pseudonyms and date offsets (generated when empty)")
	f.String("org-root", config.DefaultOrgRoot, "UID root of generated pseudonyms")
	f.String("recipe", "", "recipe file, .csv or .yaml (default built-in mammography recipe)")
	f.IntP("workers", "w", 0, "records processed concurrently (default GOMAXPROCS)")
	f.Float64("threshold", 0.2, "fuzzy match threshold for free-text scrubbing")
	f.String("unmapped", string(anonymizer.UnmappedError), "fields no rule covers: error, remove or keep")
	f.StringSlice("identity", nil, "extra name to scrub from free text, repeatable")
	f.Bool("erase-outdir", false, "erase the output folder before the run")
	f.BoolP("recursive", "r", true, "search subdirectories")
	f.String("log-file", "", "error log path (default <output>/errors.log)")
	f.StringP("ledger", "m", "", "pseudonym ledger path (default <input parent>/patient_ledger.json)")
	return cmd
}

func (a *app) run(ctx context.Context, w io.Writer, opts runOptions, cfg *config.Config) error {
	info, err := os.Stat(opts.Input)
	if err != nil {
		return fmt.Errorf("input folder does not exist: %s", opts.Input)
	}
	if !info.IsDir() {
		return fmt.Errorf("input path is not a directory: %s", opts.Input)
	}

	input, err := filepath.Abs(opts.Input)
	if err != nil {
		return err
	}
	output := opts.Output
	if output == "" {
		output = filepath.Join(input, "anonymized")
	}
	if output, err = filepath.Abs(output); err != nil {
		return err
	}
	if output == input {
		return fmt.Errorf("output folder must differ from the input folder")
	}
	if cfg.Ledger == "" {
		cfg.Ledger = filepath.Join(filepath.Dir(input), ledgerName)
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(output, errorLogName)
	}
	if opts.Report == "" {
		opts.Report = filepath.Join(output, reportName)
	}

	keyGenerated := false
	if cfg.Salt == "" {
		cfg.Salt = GenerateSecretKey()
		keyGenerated = true
	}

	r, err := recipe.LoadFile(cfg.Recipe)
	if err != nil {
		return err
	}

	printHeader(w, input, output, cfg, r, opts, keyGenerated)

	src := &dcm.DirSource{
		Root:         input,
		Recursive:    cfg.Recursive,
		MetadataOnly: opts.DryRun,
		Exclude:      []string{output},
	}
	engineCfg := cfg.Engine(a.log)

	if opts.DryRun {
		color.New(color.FgCyan).Fprintln(w, "\n[DRY RUN MODE]")
		return preview(ctx, w, engineCfg, src)
	}

	// The engine validates the configuration before anything is created on
	// disk. Its callbacks only run once the run starts.
	var (
		tracker *progress.Tracker
		errLog  *progress.ErrorLogger
	)
	bar := newProgressBar(w, opts.NoProgress)
	engineCfg.Skip = func(ref string) bool { return tracker.IsProcessed(ref) }
	engineCfg.Progress = func(done, total int, row anonymizer.Row) {
		switch row.Status {
		case anonymizer.StatusSuccess:
			tracker.MarkSuccess(row.Source, row.Output)
		case anonymizer.StatusFailed, anonymizer.StatusCollision:
			tracker.MarkError(row.Source, row.ErrorText())
			errLog.Log(row.Source, string(row.Status), row.ErrorText())
		}
		bar.update(done, total)
	}
	engine, err := anonymizer.NewEngine(r, engineCfg)
	if err != nil {
		return err
	}

	ledger, err := identity.OpenLedger(cfg.Ledger, cfg.Salt)
	if err != nil {
		return err
	}
	if errLog, err = progress.NewErrorLogger(cfg.LogFile); err != nil {
		return err
	}
	defer errLog.Close()

	tracker = progress.NewTracker(filepath.Join(output, progressFileName), input, a.log)
	switch {
	case cfg.EraseOutdir:
		tracker.Reset()
	case opts.Retry:
		if n := tracker.ClearFailed(); n > 0 {
			fmt.Fprintf(w, "Retrying %d previously failed files\n", n)
		}
	}

	fmt.Fprintln(w)
	summary, runErr := engine.Run(ctx, src, &dcm.DirSink{Root: output, Logger: a.log})
	bar.wait()
	if summary == nil {
		return fmt.Errorf("processing failed: %w", runErr)
	}

	conflicts := recordLedger(ledger, engine.Registry(), summary)
	if err := ledger.Save(); err != nil {
		return err
	}
	if err := WriteCSV(opts.Report, summary); err != nil {
		return err
	}
	if opts.XLSX != "" {
		if err := WriteXLSX(opts.XLSX, summary); err != nil {
			return err
		}
	}

	printSummary(w, summary, output, cfg.Ledger, opts, errLog, conflicts)
	return runErr
}

// recordLedger notes every written record in the ledger and returns how many
// patients got a different pseudonym than in an earlier run.
func recordLedger(l *identity.Ledger, reg *anonymizer.Registry, summary *anonymizer.RunSummary) int {
	byPseudonym := make(map[string]*anonymizer.PatientContext)
	for _, pc := range reg.Contexts() {
		byPseudonym[pc.Pseudonym] = pc
	}

	conflicts := make(map[string]bool)
	for _, row := range summary.Rows() {
		pc, ok := byPseudonym[row.Patient]
		if !ok || row.Status != anonymizer.StatusSuccess {
			continue
		}
		if c := l.Record(pc.Key, pc.Pseudonym, pc.OffsetDays); c != nil {
			conflicts[c.KeyHash] = true
		}
	}
	return len(conflicts)
}

func preview(ctx context.Context, w io.Writer, cfg anonymizer.Config, src anonymizer.Source) error {
	groups, unreadable, err := anonymizer.Preview(ctx, cfg, src)
	if err != nil {
		return err
	}

	headerfmt := color.New(color.FgGreen, color.Underline).SprintFunc()
	table := uitable.New()
	table.MaxColWidth = 70
	table.AddRow(headerfmt("PSEUDONYM"), headerfmt("MATCHED BY"), headerfmt("OFFSET"), headerfmt("FILES"))
	files := 0
	for _, g := range groups {
		table.AddRow(g.Pseudonym, string(g.Method), fmt.Sprintf("%d days", g.OffsetDays), len(g.Sources))
		files += len(g.Sources)
	}
	fmt.Fprintln(w, table)

	fmt.Fprintf(w, "\n%d files from %d patients would be de-identified\n", files, len(groups))
	if len(unreadable) > 0 {
		red := color.New(color.FgRed)
		red.Fprintf(w, "%d files could not be read:\n", len(unreadable))
		for _, e := range unreadable {
			red.Fprintf(w, "  %v\n", e)
		}
	}
	return nil
}

// GenerateSecretKey generates a cryptographically secure 32-character hex key
func GenerateSecretKey() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func printHeader(w io.Writer, input, output string, cfg *config.Config, r *recipe.Recipe, opts runOptions, keyGenerated bool) {
	color.New(color.Bold).Fprintln(w, "mammo-deid")
	fmt.Fprintln(w, strings.Repeat("=", 50))

	table := uitable.New()
	table.AddRow("Input:", input)
	table.AddRow("Output:", output)
	table.AddRow("Ledger:", cfg.Ledger)
	table.AddRow("Recipe:", fmt.Sprintf("%s (%d rules)", r.Source(), r.Len()))
	table.AddRow("Org root:", cfg.OrgRoot)
	if keyGenerated {
		table.AddRow("Salt:", cfg.Salt)
	} else if len(cfg.Salt) > 8 {
		table.AddRow("Salt:", cfg.Salt[:8]+"... (provided)")
	} else {
		table.AddRow("Salt:", "(provided)")
	}

	var options []string
	if cfg.Recursive {
		options = append(options, "Recursive")
	}
	if opts.Retry {
		options = append(options, "Retry failed")
	}
	if cfg.EraseOutdir {
		options = append(options, "Erase output")
	}
	if opts.DryRun {
		options = append(options, "Dry run")
	}
	if len(options) > 0 {
		table.AddRow("Options:", strings.Join(options, ", "))
	}
	fmt.Fprintln(w, table)

	if keyGenerated {
		yellow := color.New(color.FgYellow)
		yellow.Fprintln(w, "\nWARNING: Salt was auto-generated!")
		yellow.Fprintln(w, "         SAVE THIS SALT to keep pseudonyms consistent across batches.")
		yellow.Fprintln(w, "         Re-run with: -k "+cfg.Salt)
	}
}

func printSummary(w io.Writer, summary *anonymizer.RunSummary, output, ledger string, opts runOptions, errLog *progress.ErrorLogger, conflicts int) {
	t := summary.Totals()

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 50))
	done := color.New(color.FgGreen)
	if t.Failed > 0 || t.Collisions > 0 {
		done = color.New(color.FgRed)
	}
	done.Fprintf(w, "Complete! %d succeeded, %d failed, %d collisions, %d skipped\n",
		t.Success, t.Failed, t.Collisions, t.Skipped)

	table := uitable.New()
	table.AddRow("Run:", summary.RunID.String())
	table.AddRow("Patients:", fmt.Sprintf("%d total (%d by Name+DOB, %d by PatientID)", t.Patients, t.IdentityMatched, t.PIDMatched))
	table.AddRow("Output:", output)
	table.AddRow("Ledger:", ledger)
	table.AddRow("Report:", opts.Report)
	if opts.XLSX != "" {
		table.AddRow("Workbook:", opts.XLSX)
	}
	table.AddRow("Errors:", errLog.Summary())
	fmt.Fprintln(w, table)

	if t.Collisions > 0 {
		color.New(color.FgYellow).Fprintln(w, "\nSome outputs already existed and were left untouched. Use --erase-outdir to start over.")
	}
	if conflicts > 0 {
		color.New(color.FgYellow).Fprintf(w, "\nWARNING: %d patients got a different pseudonym than in the ledger. Was the salt or org root changed?\n", conflicts)
	}
}
