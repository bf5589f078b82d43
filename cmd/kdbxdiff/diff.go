package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/kdbxdiff/internal/config"
	"github.com/TheMichaelB/kdbxdiff/internal/creds"
	"github.com/TheMichaelB/kdbxdiff/internal/crypto"
	"github.com/TheMichaelB/kdbxdiff/internal/diff"
	"github.com/TheMichaelB/kdbxdiff/internal/history"
	"github.com/TheMichaelB/kdbxdiff/internal/render"
	"github.com/TheMichaelB/kdbxdiff/internal/services/compare"
	"github.com/TheMichaelB/kdbxdiff/internal/source"
)

var diffCmd = &cobra.Command{
	Use:   "diff <file-a> <file-b>",
	Short: "Show the differences between two databases",
	Long: `Diff decrypts both databases and lists what changed from A to B.

Inputs may be local paths, "-" for standard input or s3://bucket/key.
Passwords are prompted for unless given by flag or by a credentials
document. The exit status is 0 when the databases are equivalent and 1
when they differ.`,
	Example: `  kdbxdiff diff old.kdbx new.kdbx
  kdbxdiff diff -s old.kdbx new.kdbx
  kdbxdiff diff --keyfiles vault.keyx --no-passwords a.kdbx b.kdbx
  kdbxdiff diff --credentials creds.json --json s3://backups/a.kdbx b.kdbx`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

type diffOptions struct {
	creds creds.Flags

	noColor bool
	verbose bool
	reveal  bool
	record  bool

	credentialsFile   string
	credentialsSecret string

	ignoreFields   []string
	skipRecycleBin bool
	parallel       bool
}

var (
	diffOpts diffOptions

	passwordA string
	passwordB string
	passwords string
)

func init() {
	rootCmd.AddCommand(diffCmd)

	f := diffCmd.Flags()
	f.BoolVarP(&diffOpts.noColor, "no-color", "C", false,
		"Disable colored output")
	f.BoolVarP(&diffOpts.verbose, "verbose", "v", false,
		"Also list entries that only changed position")
	f.BoolVar(&diffOpts.reveal, "reveal", false,
		"Show the values of protected fields such as passwords")
	f.BoolVar(&diffOpts.record, "record", false,
		"Record the comparison in the history store")

	f.StringVar(&passwordA, "password-a", "",
		"Password for the first file")
	f.StringVar(&passwordB, "password-b", "",
		"Password for the second file")
	f.StringVarP(&passwords, "passwords", "p", "",
		"Password for both files")
	f.BoolVarP(&diffOpts.creds.SamePassword, "same-password", "s", false,
		"Ask for one password and use it for both files")
	f.BoolVar(&diffOpts.creds.NoPasswordA, "no-password-a", false,
		"The first file has no password")
	f.BoolVar(&diffOpts.creds.NoPasswordB, "no-password-b", false,
		"The second file has no password")
	f.BoolVar(&diffOpts.creds.NoPasswords, "no-passwords", false,
		"Neither file has a password")
	f.StringVar(&diffOpts.creds.KeyFileA, "keyfile-a", "",
		"Key file for the first file")
	f.StringVar(&diffOpts.creds.KeyFileB, "keyfile-b", "",
		"Key file for the second file")
	f.StringVar(&diffOpts.creds.KeyFiles, "keyfiles", "",
		"Key file for both files")

	f.StringVar(&diffOpts.credentialsFile, "credentials", "",
		"JSON document mapping file names to passwords and key files")
	f.StringVar(&diffOpts.credentialsSecret, "credentials-secret", "",
		"AWS Secrets Manager secret holding the credentials document")

	f.StringSliceVar(&diffOpts.ignoreFields, "ignore-field", nil,
		"Field key to leave out of the comparison (repeatable)")
	f.BoolVar(&diffOpts.skipRecycleBin, "skip-recycle-bin", false,
		"Leave the recycle bin out of the comparison")
	f.BoolVar(&diffOpts.parallel, "parallel", false,
		"Decrypt both files concurrently")
}

func runDiff(cmd *cobra.Command, args []string) error {
	opts := diffOpts
	if cmd.Flags().Changed("password-a") {
		opts.creds.PasswordA = &passwordA
	}
	if cmd.Flags().Changed("password-b") {
		opts.creds.PasswordB = &passwordB
	}
	if cmd.Flags().Changed("passwords") {
		opts.creds.Passwords = &passwords
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var prompt creds.PromptFunc
	if args[0] != source.Stdin && args[1] != source.Stdin {
		prompt = creds.TerminalPrompt(os.Stdin, os.Stderr)
	}

	out := cmd.OutOrStdout()
	return executeDiff(ctx, out, cmd.InOrStdin(), prompt, opts, args[0], args[1], useColor(out, opts.noColor))
}

// executeDiff loads both inputs, resolves their credentials, compares them
// and renders the result to out.
func executeDiff(ctx context.Context, out io.Writer, stdin io.Reader, prompt creds.PromptFunc,
	opts diffOptions, refA, refB string, colored bool) error {

	loader := source.NewLoader(cfg.Source, stdin, source.NewS3Factory(cfg.AWS), logger)
	dataA, err := loader.Load(ctx, refA)
	if err != nil {
		return err
	}
	defer crypto.Wipe(dataA)
	dataB, err := loader.Load(ctx, refB)
	if err != nil {
		return err
	}
	defer crypto.Wipe(dataB)

	combined, err := loadCombined(ctx, opts)
	if err != nil {
		return err
	}

	resolver := &creds.Resolver{Flags: opts.creds, Combined: combined, Prompt: prompt}
	pair, err := resolver.Resolve(refA, refB)
	if err != nil {
		return err
	}
	defer pair.Wipe()

	var intent diff.RevealIntent
	if opts.reveal {
		intent = diff.NewRevealIntent()
	}

	compareCfg := cfg.Compare
	compareCfg.IgnoreFields = append(append([]string(nil), compareCfg.IgnoreFields...), opts.ignoreFields...)
	compareCfg.SkipRecycleBin = compareCfg.SkipRecycleBin || opts.skipRecycleBin
	compareCfg.ParallelDecode = compareCfg.ParallelDecode || opts.parallel

	svc := compare.NewService(crypto.NewProvider(), compareCfg, logger, compare.WithReveal(intent))
	res, err := svc.Compare(ctx,
		compare.Input{Name: refA, Data: dataA, Credentials: pair.A},
		compare.Input{Name: refB, Data: dataB, Credentials: pair.B},
	)
	if err != nil {
		return err
	}
	defer res.Wipe()

	r := render.New(jsonOutput, render.Options{
		Color:   colored,
		Verbose: opts.verbose,
		Reveal:  intent,
	})
	if err := r.Render(out, res.Report()); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	if opts.record {
		if err := recordResult(ctx, res); err != nil {
			printWarning("Warning: comparison not recorded: %v", err)
		}
	}

	if !res.Changes.Empty() {
		return errDifferences
	}
	return nil
}

func loadCombined(ctx context.Context, opts diffOptions) (*creds.Combined, error) {
	switch {
	case opts.credentialsFile != "":
		return creds.LoadFromFile(opts.credentialsFile)
	case opts.credentialsSecret != "":
		sdk, err := cfg.AWS.SDKConfig(ctx)
		if err != nil {
			return nil, err
		}
		return creds.LoadFromSecret(ctx, secretsmanager.NewFromConfig(sdk), opts.credentialsSecret)
	}
	return nil, nil
}

// recordResult saves counts and digests to the configured history store,
// falling back to SQLite when history is otherwise disabled.
func recordResult(ctx context.Context, res *compare.Result) error {
	histCfg := *cfg
	if histCfg.History.Backend == config.HistoryNone || histCfg.History.Backend == "" {
		histCfg.History.Backend = config.HistorySQLite
	}
	store, err := history.Open(ctx, &histCfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	rec := res.Record()
	if err := store.Record(ctx, rec); err != nil {
		return err
	}
	if !jsonOutput {
		printSuccess("Recorded comparison %s", rec.ID)
	}
	return nil
}
