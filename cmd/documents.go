package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxprep/internal/model"
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage a return's source documents",
}

var documentsAddCmd = &cobra.Command{
	Use:   "add <return-id> <file>",
	Short: "Attach a JSON or CSV document to a return",
	Long:  "Attaches a document to a return. The format defaults to the file extension. Adding a document invalidates every pipeline step for the return.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, _ := cmd.Flags().GetString("kind")
		sourceKind, err := model.ParseSourceKind(kind)
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if format == "" {
			format = strings.TrimPrefix(filepath.Ext(args[1]), ".")
		}
		confidence, _ := cmd.Flags().GetFloat64("confidence")
		captured, _ := cmd.Flags().GetString("captured-at")

		payload, err := os.ReadFile(args[1])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[1])
		}

		doc := model.Document{
			ReturnID:   args[0],
			SourceKind: sourceKind,
			Format:     format,
			Payload:    payload,
			Confidence: confidence,
		}
		if captured != "" {
			t, err := time.Parse(time.RFC3339, captured)
			if err != nil {
				return eris.Wrapf(err, "invalid --captured-at %q (want RFC 3339)", captured)
			}
			doc.CapturedAt = t
		}

		env, err := initPipeline(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		saved, err := env.Pipeline.AddDocument(ctx, doc)
		if err != nil {
			return eris.Wrap(err, "documents add")
		}
		fmt.Fprintln(os.Stdout, saved.ID)
		return nil
	},
}

func init() {
	documentsAddCmd.Flags().String("kind", "", "source kind (AIS, FORM16, FORM26AS, FORM26AS_LLM, BANK_STATEMENT, BROKER_PNL, PREFILL)")
	documentsAddCmd.Flags().String("format", "", "json, csv or xlsx (default from the file extension)")
	documentsAddCmd.Flags().Float64("confidence", 1.0, "extraction confidence in [0,1]")
	documentsAddCmd.Flags().String("captured-at", "", "when the source was captured (RFC 3339, default now)")
	_ = documentsAddCmd.MarkFlagRequired("kind")

	documentsCmd.AddCommand(documentsAddCmd)
	rootCmd.AddCommand(documentsCmd)
}
