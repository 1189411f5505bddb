package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Veraticus/iago/internal/cli"
	"github.com/Veraticus/iago/internal/common"
	"github.com/Veraticus/iago/internal/model"
	"github.com/spf13/cobra"
)

func learnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn [text-file]",
		Short: "Teach the engine from a document and its correct field values",
		Long: `Learn context patterns from recognized text and the values a reviewer
confirmed for it. Text is read from the file argument or from stdin.

Example:
  iago learn deed.txt --set NUMERO_REGISTRO=4521 --set BAIRRO=ALEIXO`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			text, err := readText(firstArg(args), cmd.InOrStdin())
			if err != nil {
				return err
			}

			pairs, _ := cmd.Flags().GetStringArray("set")
			fields, err := parseFieldAssignments(pairs)
			if err != nil {
				return err
			}
			if len(fields) == 0 {
				return fmt.Errorf("at least one --set FIELD=value is required")
			}

			values := make(map[string]string, len(fields))
			for name, value := range fields {
				values[string(name)] = value
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			learned, err := newExtractor(store).Learn(ctx, text, values)
			if err != nil {
				return fmt.Errorf("failed to learn: %w", err)
			}

			slog.Debug("Learn finished", "fields", len(values), "new_patterns", learned)
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Learned %d new patterns", learned)))
			return nil
		},
	}

	cmd.Flags().StringArray("set", nil, "Confirmed field value as FIELD=value (repeatable)")
	return cmd
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [text-file]",
		Short: "Suggest field values for a document",
		Long: `Apply the learned patterns to recognized text and print the suggested
field values. Text is read from the file argument or from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			text, err := readText(firstArg(args), cmd.InOrStdin())
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			suggestions, err := newExtractor(store).Analyze(ctx, text)
			if err != nil {
				return fmt.Errorf("failed to analyze: %w", err)
			}

			fmt.Fprint(cmd.OutOrStdout(), cli.RenderFields(suggestions))
			return nil
		},
	}
}

func patternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "patterns",
		Aliases: []string{"pattern"},
		Short:   "Inspect and maintain the pattern store",
	}

	cmd.AddCommand(patternsListCmd())
	cmd.AddCommand(patternsStatsCmd())
	cmd.AddCommand(patternsSanitizeCmd())
	cmd.AddCommand(patternsDeleteCmd())
	return cmd
}

func patternsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List learned patterns by rank",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			patterns, err := store.GetRankedPatterns(ctx)
			if err != nil {
				return err
			}

			fieldFilter, _ := cmd.Flags().GetString("field")
			if fieldFilter != "" {
				field, ok := model.ParseFieldName(fieldFilter)
				if !ok {
					return fmt.Errorf("unknown field %q", fieldFilter)
				}
				filtered := patterns[:0]
				for _, p := range patterns {
					if p.FieldName == field {
						filtered = append(filtered, p)
					}
				}
				patterns = filtered
			}

			fmt.Fprint(cmd.OutOrStdout(), cli.RenderPatterns(patterns))
			return nil
		},
	}

	cmd.Flags().StringP("field", "f", "", "Only show patterns for this field")
	return cmd
}

func patternsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show what the engine has learned",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			stats, err := newLocalEngine(store).Stats(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderStats(stats))
			return nil
		},
	}
}

func patternsSanitizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sanitize",
		Short: "Replace every stored example with an anonymized marker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			updated, err := newLocalEngine(store).Sanitize(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Sanitized %d patterns", updated)))
			return nil
		},
	}
}

func patternsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [pattern-id]",
		Short: "Remove a learned pattern",
		Long: `Remove a pattern by id, or by field and regex when no id is given.

Example:
  iago patterns delete 12
  iago patterns delete --field LOTE --regex '(?i)LOTE:\s*(\d+)'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			fieldName, _ := cmd.Flags().GetString("field")
			regex, _ := cmd.Flags().GetString("regex")
			if len(args) == 0 && (fieldName == "" || regex == "") {
				return common.NewUserError("give a pattern id, or both --field and --regex", nil)
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var id int64
			if len(args) == 1 {
				id, err = strconv.ParseInt(args[0], 10, 64)
				if err != nil || id <= 0 {
					return common.NewUserError(fmt.Sprintf("invalid pattern id %q", args[0]), err)
				}
			} else {
				field, ok := model.ParseFieldName(fieldName)
				if !ok {
					return fmt.Errorf("unknown field %q", fieldName)
				}
				p, err := store.GetPattern(ctx, field, regex)
				if err != nil {
					return err
				}
				id = p.ID
			}

			if err := store.DeletePattern(ctx, id); err != nil {
				return err
			}

			slog.Info("Deleted pattern", "pattern_id", id)
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Deleted pattern %d", id)))
			return nil
		},
	}

	cmd.Flags().StringP("field", "f", "", "Field of the pattern to delete")
	cmd.Flags().String("regex", "", "Exact regex of the pattern to delete")
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
