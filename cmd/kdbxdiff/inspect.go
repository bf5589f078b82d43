package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/kdbxdiff/internal/crypto"
	"github.com/TheMichaelB/kdbxdiff/internal/services/compare"
	"github.com/TheMichaelB/kdbxdiff/internal/source"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show container metadata without decrypting",
	Long: `Inspect reads the unencrypted header of a KeePass database and prints its
format version, cipher, key derivation settings and compression. No
password is needed.`,
	Example: `  kdbxdiff inspect vault.kdbx
  kdbxdiff inspect --json s3://backups/vault.kdbx`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	loader := source.NewLoader(cfg.Source, cmd.InOrStdin(), source.NewS3Factory(cfg.AWS), logger)
	data, err := loader.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer crypto.Wipe(data)

	info, err := compare.Inspect(args[0], data)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), info)
	}
	return writeInspection(cmd.OutOrStdout(), info)
}

func writeInspection(w io.Writer, info *compare.Inspection) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k string, v interface{}) {
		fmt.Fprintf(tw, "%s:\t%v\n", k, v)
	}

	row("File", info.Name)
	row("Size", formatBytes(info.Size))
	row("SHA-256", info.SHA256)
	row("Version", info.Version)
	row("Cipher", info.Cipher)
	row("Compression", info.Compression)
	if info.InnerStream != "" {
		row("Inner stream", info.InnerStream)
	}
	row("KDF", info.KDF)
	if info.KDFRounds > 0 {
		row("Rounds", info.KDFRounds)
	}
	if info.KDFIterations > 0 {
		row("Iterations", info.KDFIterations)
		row("Memory", formatBytes(int(info.KDFMemory)))
		row("Parallelism", info.KDFParallelism)
	}
	return tw.Flush()
}
