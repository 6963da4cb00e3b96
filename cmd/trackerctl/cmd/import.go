package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mamdani-tracker/tracker/pkg/csvimport"
	"github.com/mamdani-tracker/tracker/pkg/models"
)

var (
	importDryRun  bool
	importPublish bool
	importCheck   bool
)

var importCmd = &cobra.Command{
	Use:   "import <promises|indicators|timeline> <file.csv>",
	Short: "Import rows from a CSV export",
	Long: `Upload a CSV export to the CMS. Rows are matched to existing content by
slug, then by title, and updated; everything else is created as a draft.

--check parses the file locally and reports row errors without contacting
the server.`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "validate on the server without writing")
	importCmd.Flags().BoolVar(&importPublish, "publish", false, "publish imported rows")
	importCmd.Flags().BoolVar(&importCheck, "check", false, "parse locally only")
}

func runImport(cmd *cobra.Command, args []string) error {
	kind, err := models.ParseContentKind(args[0])
	if err != nil {
		return err
	}
	f, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("failed to open CSV: %w", err)
	}
	defer f.Close()

	if importCheck {
		res, err := csvimport.Parse(kind, f)
		if err != nil {
			return err
		}
		report := &csvimport.Report{Kind: kind, Created: len(res.Rows), Skipped: len(res.Errors), DryRun: true, Errors: res.Errors}
		return printReport(report)
	}

	q := url.Values{}
	if importDryRun {
		q.Set("dry_run", "true")
	}
	if importPublish {
		q.Set("publish", "true")
	}
	path := fmt.Sprintf("/api/cms/%s/import", kind)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	req, err := newRequest(cmd.Context(), http.MethodPost, path, f)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/csv")
	resp, err := send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var report csvimport.Report
	if err := decodeBody(resp, &report); err != nil {
		return err
	}
	return printReport(&report)
}

func printReport(report *csvimport.Report) error {
	return render(report, func() {
		verb := "Imported"
		if report.DryRun {
			verb = "Validated"
		}
		fmt.Fprintf(stdout, "%s %s: %d created, %d updated, %d skipped\n", verb, report.Kind, report.Created, report.Updated, report.Skipped)
		if report.Published {
			fmt.Fprintln(stdout, "Imported rows were published")
		}
		if len(report.Errors) == 0 {
			return
		}
		table := tablewriter.NewWriter(stdout)
		table.Header("Line", "Field", "Error")
		for _, e := range report.Errors {
			table.Append(strconv.Itoa(e.Line), e.Field, e.Message)
		}
		table.Render()
	})
}
