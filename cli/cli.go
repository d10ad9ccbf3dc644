// Package cli implements the lockbook command line: create, inspect,
// and edit encrypted vault files, and merge divergent replicas.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aledsdavies/lockbook/runtime/appenv"
	"github.com/aledsdavies/lockbook/runtime/datasource"
	"github.com/aledsdavies/lockbook/runtime/engine"
	"github.com/aledsdavies/lockbook/runtime/envelope"
	"github.com/aledsdavies/lockbook/runtime/facade"
	"github.com/aledsdavies/lockbook/runtime/merge"
	"github.com/aledsdavies/lockbook/runtime/source"
)

type options struct {
	vaultPath string
	password  string
	verbose   bool
}

// Execute runs the lockbook CLI and returns a process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "lockbook",
		Short:         "Local-first encrypted credential vault",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
			if opts.password == "" {
				opts.password = os.Getenv("LOCKBOOK_PASSWORD")
			}
		},
	}

	root.PersistentFlags().StringVarP(&opts.vaultPath, "vault", "f", "vault.lbk", "path to the vault file")
	root.PersistentFlags().StringVarP(&opts.password, "password", "p", "", "vault password (or LOCKBOOK_PASSWORD)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newInitCommand(opts),
		newShowCommand(opts),
		newSetCommand(opts),
		newMergeCommand(opts),
		newAttachCommand(opts),
		newOptimiseCommand(opts),
		newDetectCommand(),
	)
	return root
}

func newDetectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <file>",
		Short: "Report whether a file is an encrypted vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), describeFile(data))
			return nil
		},
	}
}

// openSource wires a source over the directory containing the vault
// file; the backend path is the file's base name.
func openSource(opts *options) (*source.Source, error) {
	if opts.password == "" {
		return nil, fmt.Errorf("no password given (use --password or LOCKBOOK_PASSWORD)")
	}
	dir := filepath.Dir(opts.vaultPath)
	backend := datasource.NewFile(dir)
	return source.New(appenv.Default(), backend, filepath.Base(opts.vaultPath)), nil
}

func unlock(ctx context.Context, opts *options) (*source.Source, error) {
	s, err := openSource(opts)
	if err != nil {
		return nil, err
	}
	if err := s.Unlock(ctx, opts.password); err != nil {
		return nil, err
	}
	return s, nil
}

func newInitCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new empty vault file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(opts.vaultPath); err == nil {
				return fmt.Errorf("%s already exists", opts.vaultPath)
			}
			s, err := openSource(opts)
			if err != nil {
				return err
			}
			defer s.Lock()
			if err := s.Initialise(cmd.Context(), opts.password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (vault %s)\n", opts.vaultPath, s.Format().Tree().ID)
			return nil
		},
	}
}

func newShowCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the vault contents as a facade JSON document",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := unlock(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Lock()

			snap := facade.Build(s.Format().Tree())
			out, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newSetCommand(opts *options) *cobra.Command {
	var groupTitle string

	cmd := &cobra.Command{
		Use:   "set <entry-id|new> <property> <value>",
		Short: "Set an entry property, creating the entry when id is \"new\"",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := unlock(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Lock()
			f := s.Format()

			entryID, property, value := args[0], args[1], args[2]
			if entryID == "new" {
				groupID, err := ensureGroup(f, groupTitle)
				if err != nil {
					return err
				}
				entryID = uuid.NewString()
				if err := f.CreateEntry(groupID, entryID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created entry %s\n", entryID)
			}
			if err := f.SetEntryProperty(entryID, property, value); err != nil {
				return err
			}
			return s.Save(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&groupTitle, "group", "General", "title of the group for new entries")
	return cmd
}

// ensureGroup finds a root group by title, creating it when absent.
func ensureGroup(f *engine.Format, title string) (string, error) {
	for _, g := range f.Tree().Groups {
		if g.Title == title {
			return g.ID, nil
		}
	}
	id := uuid.NewString()
	if err := f.CreateGroup("0", id); err != nil {
		return "", err
	}
	if err := f.SetGroupTitle(id, title); err != nil {
		return "", err
	}
	return id, nil
}

func newMergeCommand(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "merge <remote-vault-file>",
		Short: "Merge a divergent replica into this vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := unlock(ctx, opts)
			if err != nil {
				return err
			}
			defer s.Lock()

			remoteLines, err := readHistory(ctx, args[0], opts.password)
			if err != nil {
				return fmt.Errorf("remote vault: %w", err)
			}

			merged, err := merge.New().Merge(s.Format().HistoryLines(), remoteLines)
			if err != nil {
				return err
			}

			target := opts.vaultPath
			if output != "" {
				target = output
			}
			mergedOpts := &options{vaultPath: target, password: opts.password}
			out, err := openSource(mergedOpts)
			if err != nil {
				return err
			}
			defer out.Lock()
			if err := out.Format().LoadHistory(merged); err != nil {
				return err
			}
			appenv.SharedCredentials().Put(out.Format().Tree().ID, appenv.Credentials{Password: opts.password})
			if err := out.Save(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Merged %d commands into %s\n", len(merged), target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the merged vault to a different file")
	return cmd
}

// readHistory unlocks a vault file on disk and returns its history.
func readHistory(ctx context.Context, path, password string) ([]string, error) {
	backend := datasource.NewFile(filepath.Dir(path))
	s := source.New(appenv.Default(), backend, filepath.Base(path))
	if err := s.Unlock(ctx, password); err != nil {
		return nil, err
	}
	defer s.Lock()
	return s.Format().HistoryLines(), nil
}

func newAttachCommand(opts *options) *cobra.Command {
	attach := &cobra.Command{
		Use:   "attach",
		Short: "Manage entry attachments",
	}

	var mediaType string
	add := &cobra.Command{
		Use:   "add <entry-id> <file>",
		Short: "Encrypt a file and attach it to an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := unlock(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Lock()

			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			d, err := s.Attachments().Put(cmd.Context(), args[0], filepath.Base(args[1]), mediaType, data)
			if err != nil {
				return err
			}
			if err := s.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Attached %s (%d bytes) as %s\n", d.Name, d.SizeOriginal, d.ID)
			return nil
		},
	}
	add.Flags().StringVar(&mediaType, "type", "application/octet-stream", "media type of the attachment")

	list := &cobra.Command{
		Use:   "list <entry-id>",
		Short: "List an entry's attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := unlock(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Lock()

			details, err := s.Attachments().List(args[0])
			if err != nil {
				return err
			}
			for _, d := range details {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d bytes  %s\n", d.ID, d.Name, d.SizeOriginal, d.Updated)
			}
			return nil
		},
	}

	attach.AddCommand(add, list)
	return attach
}

func newOptimiseCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "optimise",
		Short: "Flatten the vault history into a minimal equivalent form",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := unlock(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Lock()
			f := s.Format()

			if !f.CanBeFlattened() {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to optimise")
				return nil
			}
			before := len(f.History())
			if err := f.Optimise(); err != nil {
				return err
			}
			if err := s.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "History compacted: %d -> %d commands\n", before, len(f.History()))
			return nil
		},
	}
}

// describeFile reports the envelope format of a file, used by the
// detect command and tests.
func describeFile(data []byte) string {
	if envelope.IsEncrypted(data) {
		return "format " + envelope.Detect(data).String()
	}
	if strings.HasPrefix(strings.TrimSpace(string(data)), "fmt ") {
		return "plaintext history"
	}
	return "unknown"
}
