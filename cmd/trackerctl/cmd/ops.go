package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mamdani-tracker/tracker/pkg/api"
	"github.com/mamdani-tracker/tracker/pkg/edge"
	"github.com/mamdani-tracker/tracker/pkg/metrics"
	"github.com/mamdani-tracker/tracker/pkg/models"
	"github.com/mamdani-tracker/tracker/pkg/prerender"
)

const defaultCrawlerUA = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"

var (
	sitemapDir    string
	inspectUA     string
	purgePrefix   string
	metricsPrefix string
	loginEmail    string
	loginPassword string
)

var sitemapCmd = &cobra.Command{
	Use:   "sitemap",
	Short: "Export sitemap.xml and robots.txt",
	Long:  `Download the server's sitemap.xml and robots.txt into a directory, for static hosting or review.`,
	Args:  cobra.NoArgs,
	RunE:  runSitemap,
}

var prerenderCmd = &cobra.Command{
	Use:   "prerender",
	Short: "Inspect crawler responses",
}

var prerenderInspectCmd = &cobra.Command{
	Use:   "inspect <path>",
	Short: "Fetch a route as a crawler and summarise its SEO tags",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrerenderInspect,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the crawler page cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop cached crawler pages",
	Args:  cobra.NoArgs,
	RunE:  runCachePurge,
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show server counters",
	Args:  cobra.NoArgs,
	RunE:  runMetrics,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show content counts by kind and state",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange email and password for a session token",
	Long: `Log in and print a session token. Export it as TRACKER_API_KEY or put it
in the config file as api_key for subsequent commands.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the authenticated principal",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func init() {
	rootCmd.AddCommand(sitemapCmd)
	rootCmd.AddCommand(prerenderCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(whoamiCmd)
	prerenderCmd.AddCommand(prerenderInspectCmd)
	cacheCmd.AddCommand(cachePurgeCmd)

	sitemapCmd.Flags().StringVar(&sitemapDir, "dir", ".", "output directory")
	prerenderInspectCmd.Flags().StringVar(&inspectUA, "user-agent", defaultCrawlerUA, "crawler user agent to send")
	cachePurgeCmd.Flags().StringVar(&purgePrefix, "prefix", "", "only purge cache keys starting with this path")
	metricsCmd.Flags().StringVar(&metricsPrefix, "prefix", "tracker_", "metric name prefix to show")
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email (required)")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "password (default from TRACKER_PASSWORD)")
	loginCmd.MarkFlagRequired("email")
}

// fetch GETs a public path and returns the body
func fetch(cmd *cobra.Command, path string, header http.Header) ([]byte, http.Header, error) {
	req, err := newRequest(cmd.Context(), http.MethodGet, path, nil)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := send(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return body, resp.Header, nil
}

func runSitemap(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(sitemapDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", sitemapDir, err)
	}
	for _, name := range []string{"sitemap.xml", "robots.txt"} {
		body, _, err := fetch(cmd, "/"+name, nil)
		if err != nil {
			return err
		}
		dest := filepath.Join(sitemapDir, name)
		if err := os.WriteFile(dest, body, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", dest, err)
		}
		fmt.Fprintf(stdout, "Wrote %s (%d bytes)\n", dest, len(body))
	}
	return nil
}

type inspectResult struct {
	Path      string          `json:"path" yaml:"path"`
	Prerender string          `json:"prerender" yaml:"prerender"`
	Meta      *prerender.Meta `json:"meta" yaml:"meta"`
}

func runPrerenderInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	body, header, err := fetch(cmd, path, http.Header{"User-Agent": {inspectUA}})
	if err != nil {
		return err
	}
	meta, err := prerender.ExtractMeta(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %w", err)
	}

	result := inspectResult{Path: path, Prerender: header.Get(edge.HeaderPrerender), Meta: meta}
	return render(result, func() {
		table := tablewriter.NewWriter(stdout)
		table.Header("Field", "Value")
		table.Append("X-Prerender", orDash(result.Prerender))
		table.Append("Title", orDash(meta.Title))
		table.Append("Description", orDash(meta.Description))
		table.Append("Canonical", orDash(meta.Canonical))
		table.Append("Robots", orDash(meta.Robots))
		table.Append("H1", orDash(strings.Join(meta.H1, " | ")))
		table.Append("Links", strconv.Itoa(meta.Links))
		table.Append("JSON-LD blocks", strconv.Itoa(len(meta.JSONLD)))
		for _, k := range sortedKeys(meta.OpenGraph) {
			table.Append(k, meta.OpenGraph[k])
		}
		table.Render()
	})
}

func runCachePurge(cmd *cobra.Command, args []string) error {
	path := "/api/cms/cache/purge"
	if purgePrefix != "" {
		path += "?" + url.Values{"prefix": {purgePrefix}}.Encode()
	}
	var resp map[string]int
	if err := callJSON(cmd.Context(), http.MethodPost, path, nil, &resp); err != nil {
		return err
	}
	return render(resp, func() {
		fmt.Fprintf(stdout, "Purged %d cached pages\n", resp["purged"])
	})
}

func runMetrics(cmd *cobra.Command, args []string) error {
	req, err := newRequest(cmd.Context(), http.MethodGet, "/api/cms/metrics", nil)
	if err != nil {
		return err
	}
	resp, err := send(req)
	if isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("metrics are disabled on %s", APIURL())
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	families, err := metrics.ParseText(resp.Body)
	if err != nil {
		return err
	}
	samples := metrics.Flatten(families, metricsPrefix)
	return render(samples, func() {
		table := tablewriter.NewWriter(stdout)
		table.Header("Metric", "Labels", "Value")
		for _, s := range samples {
			table.Append(s.Name, s.Labels, strconv.FormatFloat(s.Value, 'g', -1, 64))
		}
		table.Render()
	})
}

func runStats(cmd *cobra.Command, args []string) error {
	var stats models.ContentStats
	if err := callJSON(cmd.Context(), http.MethodGet, "/api/cms/stats", nil, &stats); err != nil {
		return err
	}
	return render(stats, func() {
		table := tablewriter.NewWriter(stdout)
		table.Header("Kind", "Draft", "Published")
		for _, kind := range []models.ContentKind{models.KindPromise, models.KindIndicator, models.KindTimeline} {
			counts := stats.ByState[kind]
			table.Append(string(kind), strconv.Itoa(counts[models.StateDraft]), strconv.Itoa(counts[models.StatePublished]))
		}
		table.Render()

		if len(stats.PromisesByStatus) == 0 {
			return
		}
		status := tablewriter.NewWriter(stdout)
		status.Header("Promise status", "Published")
		statuses := make([]string, 0, len(stats.PromisesByStatus))
		for s := range stats.PromisesByStatus {
			statuses = append(statuses, string(s))
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			status.Append(models.PromiseStatus(s).Label(), strconv.Itoa(stats.PromisesByStatus[models.PromiseStatus(s)]))
		}
		status.Render()
	})
}

func runLogin(cmd *cobra.Command, args []string) error {
	password := loginPassword
	if password == "" {
		password = os.Getenv("TRACKER_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("--password or TRACKER_PASSWORD is required")
	}
	var resp models.LoginResponse
	req := models.LoginRequest{Email: loginEmail, Password: password}
	if err := callJSON(cmd.Context(), http.MethodPost, "/api/auth/login", req, &resp); err != nil {
		return err
	}
	return render(resp, func() {
		fmt.Fprintf(stdout, "Logged in as %s (%s), token expires %s\n", resp.User.Email, resp.User.Role, resp.ExpiresAt.Local().Format("2006-01-02 15:04"))
		fmt.Fprintf(stdout, "export TRACKER_API_KEY=%s\n", resp.Token)
	})
}

func runWhoami(cmd *cobra.Command, args []string) error {
	var me api.MeResponse
	if err := callJSON(cmd.Context(), http.MethodGet, "/api/auth/me", nil, &me); err != nil {
		return err
	}
	return render(me, func() {
		perms := make([]string, len(me.Permissions))
		for i, p := range me.Permissions {
			perms[i] = string(p)
		}
		fmt.Fprintf(stdout, "%s (%s via %s)\n", me.Principal.Email, me.Principal.Role, me.Principal.Method)
		fmt.Fprintf(stdout, "Permissions: %s\n", strings.Join(perms, ", "))
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// decodeBody decodes a JSON response body into out
func decodeBody(resp *http.Response, out interface{}) error {
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
