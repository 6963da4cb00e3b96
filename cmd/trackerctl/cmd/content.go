package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mamdani-tracker/tracker/pkg/api"
	"github.com/mamdani-tracker/tracker/pkg/models"
)

var listState string

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "List and manage tracker content",
	Long:  `Commands for listing, inspecting and deleting promises, indicators and timeline entries.`,
}

var contentListCmd = &cobra.Command{
	Use:   "list <promises|indicators|timeline>",
	Short: "List content of one kind",
	Args:  cobra.ExactArgs(1),
	RunE:  runContentList,
}

var contentGetCmd = &cobra.Command{
	Use:   "get <kind> <id>",
	Short: "Show one row",
	Args:  cobra.ExactArgs(2),
	RunE:  runContentGet,
}

var contentDeleteCmd = &cobra.Command{
	Use:   "delete <kind> <id>",
	Short: "Delete one row",
	Args:  cobra.ExactArgs(2),
	RunE:  runContentDelete,
}

var contentReorderCmd = &cobra.Command{
	Use:   "reorder <kind> <id>...",
	Short: "Set display order; ids are listed first to last",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runContentReorder,
}

var publishCmd = &cobra.Command{
	Use:   "publish <kind> <id>",
	Short: "Publish a draft",
	Long:  `Move a draft row to published so it appears on the public site.`,
	Args:  cobra.ExactArgs(2),
	RunE:  transitionRunner("publish"),
}

var unpublishCmd = &cobra.Command{
	Use:   "unpublish <kind> <id>",
	Short: "Return a published row to draft",
	Args:  cobra.ExactArgs(2),
	RunE:  transitionRunner("unpublish"),
}

func init() {
	rootCmd.AddCommand(contentCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(unpublishCmd)
	contentCmd.AddCommand(contentListCmd)
	contentCmd.AddCommand(contentGetCmd)
	contentCmd.AddCommand(contentDeleteCmd)
	contentCmd.AddCommand(contentReorderCmd)

	contentListCmd.Flags().StringVar(&listState, "state", "", "filter by editorial state: draft or published")
}

// contentRow holds the fields common to every kind plus the per-kind title
type contentRow struct {
	ID             string                `json:"id" yaml:"id"`
	Slug           string                `json:"slug" yaml:"slug"`
	Headline       string                `json:"headline,omitempty" yaml:"headline,omitempty"`
	Name           string                `json:"name,omitempty" yaml:"name,omitempty"`
	Title          string                `json:"title,omitempty" yaml:"title,omitempty"`
	Status         string                `json:"status,omitempty" yaml:"status,omitempty"`
	Day            int                   `json:"day,omitempty" yaml:"day,omitempty"`
	EditorialState models.EditorialState `json:"editorial_state" yaml:"editorial_state"`
	DisplayOrder   int                   `json:"display_order" yaml:"display_order"`
	UpdatedAt      time.Time             `json:"updated_at" yaml:"updated_at"`
}

func (r contentRow) label() string {
	switch {
	case r.Headline != "":
		return r.Headline
	case r.Name != "":
		return r.Name
	case r.Day > 0:
		return fmt.Sprintf("Day %d: %s", r.Day, r.Title)
	default:
		return r.Title
	}
}

func runContentList(cmd *cobra.Command, args []string) error {
	kind, err := models.ParseContentKind(args[0])
	if err != nil {
		return err
	}
	path := "/api/cms/" + string(kind)
	if listState != "" {
		path += "?" + url.Values{"state": {listState}}.Encode()
	}

	var rows []contentRow
	if err := callJSON(cmd.Context(), http.MethodGet, path, nil, &rows); err != nil {
		return err
	}
	return render(rows, func() {
		table := tablewriter.NewWriter(stdout)
		table.Header("Order", "ID", "Slug", "Title", "State", "Updated")
		for _, r := range rows {
			table.Append(strconv.Itoa(r.DisplayOrder), r.ID, r.Slug, r.label(), string(r.EditorialState), r.UpdatedAt.Format("2006-01-02 15:04"))
		}
		table.Render()
		fmt.Fprintf(stdout, "%d %s\n", len(rows), kind)
	})
}

func runContentGet(cmd *cobra.Command, args []string) error {
	kind, err := models.ParseContentKind(args[0])
	if err != nil {
		return err
	}
	var row map[string]interface{}
	if err := callJSON(cmd.Context(), http.MethodGet, fmt.Sprintf("/api/cms/%s/%s", kind, url.PathEscape(args[1])), nil, &row); err != nil {
		return err
	}
	return render(row, func() {
		table := tablewriter.NewWriter(stdout)
		table.Header("Field", "Value")
		for _, k := range sortedKeys(row) {
			table.Append(k, fmt.Sprint(row[k]))
		}
		table.Render()
	})
}

func runContentDelete(cmd *cobra.Command, args []string) error {
	kind, err := models.ParseContentKind(args[0])
	if err != nil {
		return err
	}
	if err := callJSON(cmd.Context(), http.MethodDelete, fmt.Sprintf("/api/cms/%s/%s", kind, url.PathEscape(args[1])), nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Deleted %s %s\n", kind.Singular(), args[1])
	return nil
}

func runContentReorder(cmd *cobra.Command, args []string) error {
	kind, err := models.ParseContentKind(args[0])
	if err != nil {
		return err
	}
	body := api.ReorderRequest{IDs: args[1:]}
	if err := callJSON(cmd.Context(), http.MethodPost, fmt.Sprintf("/api/cms/%s/reorder", kind), body, nil); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Reordered %d %s\n", len(args)-1, kind)
	return nil
}

func transitionRunner(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		kind, err := models.ParseContentKind(args[0])
		if err != nil {
			return err
		}
		var row contentRow
		path := fmt.Sprintf("/api/cms/%s/%s/%s", kind, url.PathEscape(args[1]), action)
		if err := callJSON(cmd.Context(), http.MethodPost, path, nil, &row); err != nil {
			return err
		}
		return render(row, func() {
			fmt.Fprintf(stdout, "%s %q is now %s\n", kind.Singular(), row.label(), row.EditorialState)
		})
	}
}
