package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Veraticus/iago/internal/cli"
	"github.com/Veraticus/iago/internal/common"
	"github.com/Veraticus/iago/internal/model"
	"github.com/Veraticus/iago/internal/workflow"
	"github.com/spf13/cobra"
)

func recordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "records",
		Aliases: []string{"record"},
		Short:   "Review records",
		Long: `Import recognized documents and drive them through review.

Opening a record takes its edit lock. Saving or concluding releases it.
Concluding marks the record completed and teaches the engine from the
final values.`,
	}

	cmd.AddCommand(recordsImportCmd())
	cmd.AddCommand(recordsListCmd())
	cmd.AddCommand(recordsShowCmd())
	cmd.AddCommand(recordsOpenCmd())
	cmd.AddCommand(recordsSaveCmd())
	cmd.AddCommand(recordsConcludeCmd())
	cmd.AddCommand(recordsReopenCmd())
	cmd.AddCommand(recordsReleaseCmd())
	cmd.AddCommand(recordsReanalyzeCmd())
	return cmd
}

type importSummary struct {
	imported   int
	replaced   int
	duplicates int
	failed     int
}

func recordsImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <text-file>...",
		Short: "Create pending records from recognized text files",
		Long: `Create one pending record per text file. Field values are pre-filled
from the learned patterns, and the registration number is taken from the
first number in the file name when it has one.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overwrite, _ := cmd.Flags().GetBool("overwrite")
			out := cmd.OutOrStdout()

			handler := cli.NewInterruptHandler(out, "Import")
			ctx := handler.HandleInterrupts(cmd.Context(), "Run the command again with the remaining files.")

			var summary importSummary
			err := withManager(ctx, func(manager *workflow.Manager) error {
				bar := cli.NewProgressBar(os.Stderr, len(args), "Importing documents...")
				for _, path := range args {
					if ctx.Err() != nil {
						break
					}

					text, err := readText(path, cmd.InOrStdin())
					if err != nil {
						summary.failed++
						slog.Warn("Skipping unreadable file", "file", path, "error", err)
						_ = bar.Add(1)
						continue
					}

					result, err := manager.ImportDocument(ctx, workflow.ImportRequest{
						RecognizedText: text,
						SourceFile:     path,
						Overwrite:      overwrite,
					})
					switch {
					case errors.Is(err, common.ErrDuplicateRecord):
						summary.duplicates++
						slog.Warn("Skipping duplicate document", "file", path, "error", err)
					case err != nil:
						return fmt.Errorf("failed to import %s: %w", path, err)
					default:
						summary.imported++
						if result.ReplacedID != 0 {
							summary.replaced++
						}
					}
					_ = bar.Add(1)
				}
				return nil
			})
			if err != nil {
				return err
			}

			content := fmt.Sprintf("Imported:   %d\nReplaced:   %d\nDuplicates: %d\nFailed:     %d",
				summary.imported, summary.replaced, summary.duplicates, summary.failed)
			fmt.Fprintln(out, cli.RenderBox("Import Summary", content))
			if handler.WasInterrupted() {
				return ctx.Err()
			}
			return nil
		},
	}

	cmd.Flags().Bool("overwrite", false, "Replace records that share a registration number")
	return cmd
}

func recordsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records, pending first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := cmd.Flags().GetString("status")
			search, _ := cmd.Flags().GetString("search")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := model.RecordFilter{
				Status: model.RecordStatus(strings.ToUpper(strings.TrimSpace(status))),
				Search: search,
				Limit:  limit,
			}
			switch filter.Status {
			case "", model.StatusPending, model.StatusCompleted, model.StatusEditing:
			default:
				return common.NewUserError(fmt.Sprintf("unknown status %q", status), nil)
			}

			return withManager(cmd.Context(), func(manager *workflow.Manager) error {
				views, err := manager.ListRecords(cmd.Context(), filter)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), cli.RenderRecords(views))
				return nil
			})
		},
	}

	cmd.Flags().StringP("status", "s", "", "Filter by status (PENDING, EDITING, COMPLETED)")
	cmd.Flags().String("search", "", "Match registration numbers and field values")
	cmd.Flags().IntP("limit", "n", 50, "Maximum records to show (0 for all)")
	return cmd
}

func recordsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a record and its field values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}

			return withManager(cmd.Context(), func(manager *workflow.Manager) error {
				view, err := manager.GetRecord(cmd.Context(), id)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprint(out, cli.RenderRecords([]model.RecordView{*view}))
				fmt.Fprintln(out)
				fmt.Fprint(out, cli.RenderFields(view.FieldValues()))
				return nil
			})
		},
	}
}

func recordsOpenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open <id>",
		Short: "Take the edit lock of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			user, role := actorFromFlags(cmd)

			return withManager(cmd.Context(), func(manager *workflow.Manager) error {
				result, err := manager.OpenForEdit(cmd.Context(), id, user, role)
				if err != nil {
					return err
				}
				if !result.Granted {
					return result.Err()
				}

				out := cmd.OutOrStdout()
				if result.Stolen {
					fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("Took over record %d from %s", id, result.PreviousHolder)))
				}
				fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s Record %d is open for %s", cli.LockIcon, id, user)))
				fmt.Fprint(out, cli.RenderFields(result.Record.FieldValues()))
				return nil
			})
		},
	}

	addActorFlags(cmd)
	return cmd
}

func recordsSaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save <id>",
		Short: "Save field values and release the edit lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			pairs, _ := cmd.Flags().GetStringArray("set")
			fields, err := parseFieldAssignments(pairs)
			if err != nil {
				return err
			}

			return withManager(cmd.Context(), func(manager *workflow.Manager) error {
				if err := manager.SaveRecord(cmd.Context(), id, fields); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Saved record %d", id)))
				return nil
			})
		},
	}

	cmd.Flags().StringArray("set", nil, "Field value as FIELD=value (repeatable)")
	return cmd
}

func recordsConcludeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conclude <id>",
		Short: "Complete a record and teach the engine from it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			user, _ := actorFromFlags(cmd)
			pairs, _ := cmd.Flags().GetStringArray("set")
			fields, err := parseFieldAssignments(pairs)
			if err != nil {
				return err
			}

			return withManager(cmd.Context(), func(manager *workflow.Manager) error {
				result, err := manager.ConcludeRecord(cmd.Context(), id, user, fields)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Record %d completed by %s", id, user)))
				if result.LearnErr != nil {
					fmt.Fprintln(out, cli.FormatWarning("Learning failed: "+result.LearnErr.Error()))
				} else {
					fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Learned %d new patterns", result.LearnedCount)))
				}
				return nil
			})
		},
	}

	addActorFlags(cmd)
	cmd.Flags().StringArray("set", nil, "Final field value as FIELD=value (repeatable)")
	return cmd
}

func recordsReopenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reopen <id>",
		Short: "Return a completed record to pending (admin and supervisor only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}
			user, role := actorFromFlags(cmd)

			return withManager(cmd.Context(), func(manager *workflow.Manager) error {
				if err := manager.ReopenRecord(cmd.Context(), id, user, role); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Reopened record %d", id)))
				return nil
			})
		},
	}

	addActorFlags(cmd)
	return cmd
}

func recordsReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <id>",
		Short: "Drop the edit lock of a record without saving",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}

			return withManager(cmd.Context(), func(manager *workflow.Manager) error {
				if err := manager.ReleaseLock(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Released record %d", id)))
				return nil
			})
		},
	}
}

func recordsReanalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reanalyze <id>",
		Short: "Re-run extraction over a record's stored text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordID(args[0])
			if err != nil {
				return err
			}

			return withManager(cmd.Context(), func(manager *workflow.Manager) error {
				changes, err := manager.Reanalyze(cmd.Context(), id)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(changes) == 0 {
					fmt.Fprintln(out, cli.FormatInfo("No fields changed"))
					return nil
				}
				rows := make([][]string, 0, len(changes))
				for _, c := range changes {
					rows = append(rows, []string{string(c.Field), c.OldValue, c.NewValue})
				}
				fmt.Fprint(out, cli.RenderTable([]string{"FIELD", "OLD", "NEW"}, rows))
				return nil
			})
		},
	}
}

func locksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Maintain edit locks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Delete edit locks older than the configured TTL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd.Context(), func(manager *workflow.Manager) error {
				removed, err := manager.SweepExpiredLocks(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(
					fmt.Sprintf("Removed %d locks older than %s", removed, appConfig.Locks.TTL.Round(time.Second))))
				return nil
			})
		},
	})
	return cmd
}
