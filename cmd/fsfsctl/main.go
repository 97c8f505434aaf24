// Package main provides the fsfsctl CLI entry point: a thin command-line
// wrapper over pkg/fs for creating repositories, inspecting revisions,
// and driving transactions one subcommand at a time.
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hollowmark/fsfs/pkg/config"
	"github.com/hollowmark/fsfs/pkg/fs"
	"github.com/hollowmark/fsfs/pkg/ids"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "fsfsctl",
		Short: "fsfsctl - transactional commit engine for a versioned, append-only filesystem",
		Long: `fsfsctl drives a versioned, append-only filesystem one operation at a time:
initialize a repository, open a transaction, mutate it, and commit it into a
new immutable revision.

Transactions outlive a single fsfsctl invocation: "txn begin" prints a
transaction id that later "txn" subcommands take as an argument.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fsfsctl v%s\n", version)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init [data-dir]",
		Short: "Initialize a new repository",
		Args:  cobra.ExactArgs(1),
		RunE:  runInit,
	}
	initCmd.Flags().Int64("shard-size", 1000, "Revisions per shard (0 for unsharded)")
	rootCmd.AddCommand(initCmd)

	youngestCmd := &cobra.Command{
		Use:   "youngest [data-dir]",
		Short: "Print the youngest published revision",
		Args:  cobra.ExactArgs(1),
		RunE:  runYoungest,
	}
	rootCmd.AddCommand(youngestCmd)

	logCmd := &cobra.Command{
		Use:   "log [data-dir] [rev]",
		Short: "Print the canonical change set of a revision",
		Args:  cobra.ExactArgs(2),
		RunE:  runLog,
	}
	rootCmd.AddCommand(logCmd)

	catCmd := &cobra.Command{
		Use:   "cat [data-dir] [rev] [path]",
		Short: "Print a file's content as of a revision",
		Args:  cobra.ExactArgs(3),
		RunE:  runCat,
	}
	rootCmd.AddCommand(catCmd)

	lsCmd := &cobra.Command{
		Use:   "ls [data-dir] [rev] [path]",
		Short: "List a directory's entries as of a revision",
		Args:  cobra.ExactArgs(3),
		RunE:  runLs,
	}
	rootCmd.AddCommand(lsCmd)

	txnCmd := &cobra.Command{
		Use:   "txn",
		Short: "Open, mutate, and resolve a transaction",
	}

	beginCmd := &cobra.Command{
		Use:   "begin [data-dir]",
		Short: "Open a transaction against the youngest revision and print its id",
		Args:  cobra.ExactArgs(1),
		RunE:  runBegin,
	}
	beginCmd.Flags().Int64("base", -1, "Base revision (default: youngest)")
	txnCmd.AddCommand(beginCmd)

	setCmd := &cobra.Command{
		Use:   "set [data-dir] [txn-id] [path] [content-file]",
		Short: "Create or overwrite a file's content within a transaction",
		Args:  cobra.ExactArgs(4),
		RunE:  runSet,
	}
	txnCmd.AddCommand(setCmd)

	mkdirCmd := &cobra.Command{
		Use:   "mkdir [data-dir] [txn-id] [path]",
		Short: "Create a directory within a transaction",
		Args:  cobra.ExactArgs(3),
		RunE:  runMkdir,
	}
	txnCmd.AddCommand(mkdirCmd)

	rmCmd := &cobra.Command{
		Use:   "rm [data-dir] [txn-id] [path]",
		Short: "Delete a path within a transaction",
		Args:  cobra.ExactArgs(3),
		RunE:  runRm,
	}
	txnCmd.AddCommand(rmCmd)

	mvCmd := &cobra.Command{
		Use:   "mv [data-dir] [txn-id] [src-path] [dest-path]",
		Short: "Move a path within a transaction",
		Args:  cobra.ExactArgs(4),
		RunE:  runMv,
	}
	txnCmd.AddCommand(mvCmd)

	commitCmd := &cobra.Command{
		Use:   "commit [data-dir] [txn-id]",
		Short: "Commit a transaction, publishing a new revision",
		Args:  cobra.ExactArgs(2),
		RunE:  runCommit,
	}
	txnCmd.AddCommand(commitCmd)

	abortCmd := &cobra.Command{
		Use:   "abort [data-dir] [txn-id]",
		Short: "Discard a transaction without committing it",
		Args:  cobra.ExactArgs(2),
		RunE:  runAbort,
	}
	txnCmd.AddCommand(abortCmd)

	rootCmd.AddCommand(txnCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openRepo opens dataDir with zero-value fs.Options. fs.Open reads the
// shard size back from the format file; the delta policy and
// rep-sharing setting chosen at init are not stored there, so later
// commands run with the fs.Options defaults for them.
func openRepo(dataDir string) (*fs.Filesystem, error) {
	return fs.Open(dataDir, fs.Options{})
}

func runInit(cmd *cobra.Command, args []string) error {
	shardSize, _ := cmd.Flags().GetInt64("shard-size")
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	f, err := fs.Create(args[0], fs.Options{
		ShardSize:         shardSize,
		Policy:            cfg.DeltaPolicy(),
		RepSharingEnabled: cfg.RepSharing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("fsfsctl: init: %w", err)
	}
	defer f.Close()

	fmt.Printf("initialized empty repository at %s (r0)\n", args[0])
	return nil
}

func runYoungest(cmd *cobra.Command, args []string) error {
	f, err := openRepo(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	rev, err := f.Youngest()
	if err != nil {
		return err
	}
	fmt.Println(int64(rev))
	return nil
}

func runLog(cmd *cobra.Command, args []string) error {
	f, err := openRepo(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	rev, err := parseRevision(args[1])
	if err != nil {
		return err
	}
	changes, err := f.Changes(rev)
	if err != nil {
		return err
	}
	for path, rec := range changes {
		fmt.Printf("%s %s\n", rec.Kind, path)
	}
	return nil
}

func runCat(cmd *cobra.Command, args []string) error {
	f, err := openRepo(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	rev, err := parseRevision(args[1])
	if err != nil {
		return err
	}
	content, err := f.ReadFile(rev, args[2])
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(content)
	return err
}

func runLs(cmd *cobra.Command, args []string) error {
	f, err := openRepo(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	rev, err := parseRevision(args[1])
	if err != nil {
		return err
	}
	entries, err := f.ReadDir(rev, args[2])
	if err != nil {
		return err
	}
	for _, e := range entries {
		kind := "file"
		if e.Kind == ids.KindDir {
			kind = "dir"
		}
		fmt.Printf("%-4s %s\n", kind, e.Name)
	}
	return nil
}

func runBegin(cmd *cobra.Command, args []string) error {
	f, err := openRepo(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	base, _ := cmd.Flags().GetInt64("base")
	baseRev := ids.Revision(base)
	if base < 0 {
		baseRev, err = f.Youngest()
		if err != nil {
			return err
		}
	}

	txn, err := f.Begin(baseRev)
	if err != nil {
		return err
	}
	fmt.Println(txn.ID().String())
	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	f, txn, err := openTxn(args[0], args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	content, err := os.ReadFile(args[3])
	if err != nil {
		return fmt.Errorf("fsfsctl: reading %s: %w", args[3], err)
	}

	path := args[2]
	_, _, resolveErr := txn.Resolve(path)
	switch {
	case errors.Is(resolveErr, fs.ErrNotFound):
		return txn.MakeFile(path, content)
	case resolveErr == nil:
		return txn.WriteFile(path, content)
	default:
		return resolveErr
	}
}

func runMkdir(cmd *cobra.Command, args []string) error {
	f, txn, err := openTxn(args[0], args[1])
	if err != nil {
		return err
	}
	defer f.Close()
	return txn.MakeDir(args[2])
}

func runRm(cmd *cobra.Command, args []string) error {
	f, txn, err := openTxn(args[0], args[1])
	if err != nil {
		return err
	}
	defer f.Close()
	return txn.Delete(args[2])
}

func runMv(cmd *cobra.Command, args []string) error {
	f, txn, err := openTxn(args[0], args[1])
	if err != nil {
		return err
	}
	defer f.Close()
	return txn.Move(args[2], args[3])
}

func runCommit(cmd *cobra.Command, args []string) error {
	f, txn, err := openTxn(args[0], args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	rev, err := f.Commit(txn)
	if err != nil {
		return err
	}
	fmt.Printf("committed r%d\n", rev)
	return nil
}

func runAbort(cmd *cobra.Command, args []string) error {
	f, err := openRepo(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	id, err := ids.ParseTxnID(args[1])
	if err != nil {
		return fmt.Errorf("fsfsctl: parsing txn id %q: %w", args[1], err)
	}
	if err := f.Abort(id); err != nil {
		return err
	}
	fmt.Printf("aborted %s\n", args[1])
	return nil
}

func openTxn(dataDir, txnID string) (*fs.Filesystem, *fs.Txn, error) {
	f, err := openRepo(dataDir)
	if err != nil {
		return nil, nil, err
	}
	id, err := ids.ParseTxnID(txnID)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("fsfsctl: parsing txn id %q: %w", txnID, err)
	}
	txn, err := f.OpenTxn(id)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, txn, nil
}

func parseRevision(s string) (ids.Revision, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("fsfsctl: parsing revision %q: %w", s, err)
	}
	return ids.Revision(n), nil
}
