package cmd

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mamdani-tracker/tracker/pkg/api"
	"github.com/mamdani-tracker/tracker/pkg/models"
)

var (
	userEmail    string
	userName     string
	userRole     string
	userPassword string
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage CMS accounts",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE:  runUsersList,
}

var usersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision an account",
	Long: `Provision a CMS account. When --password is omitted the server
generates one and it is printed exactly once.`,
	Args: cobra.NoArgs,
	RunE: runUsersCreate,
}

var usersSuspendCmd = &cobra.Command{
	Use:   "suspend <id>",
	Short: "Suspend an account; existing sessions stop working",
	Args:  cobra.ExactArgs(1),
	RunE:  userStatusRunner("suspended"),
}

var usersActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Reactivate a suspended account",
	Args:  cobra.ExactArgs(1),
	RunE:  userStatusRunner("active"),
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersDelete,
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersCreateCmd)
	usersCmd.AddCommand(usersSuspendCmd)
	usersCmd.AddCommand(usersActivateCmd)
	usersCmd.AddCommand(usersDeleteCmd)

	usersCreateCmd.Flags().StringVar(&userEmail, "email", "", "email address (required)")
	usersCreateCmd.Flags().StringVar(&userName, "name", "", "full name")
	usersCreateCmd.Flags().StringVar(&userRole, "role", string(models.RoleEditor), "role: admin, editor or viewer")
	usersCreateCmd.Flags().StringVar(&userPassword, "password", "", "initial password (generated when empty)")
	usersCreateCmd.MarkFlagRequired("email")
}

func runUsersList(cmd *cobra.Command, args []string) error {
	var users []models.User
	if err := callJSON(cmd.Context(), http.MethodGet, "/api/cms/users", nil, &users); err != nil {
		return err
	}
	return render(users, func() {
		table := tablewriter.NewWriter(stdout)
		table.Header("ID", "Email", "Name", "Role", "Status", "Last Login")
		for _, u := range users {
			lastLogin := "never"
			if u.LastLoginAt != nil {
				lastLogin = u.LastLoginAt.Format("2006-01-02 15:04")
			}
			table.Append(u.ID, u.Email, u.FullName, string(u.Role), u.Status, lastLogin)
		}
		table.Render()
	})
}

func runUsersCreate(cmd *cobra.Command, args []string) error {
	req := models.UserRequest{
		Email:    userEmail,
		FullName: userName,
		Role:     models.Role(userRole),
		Password: userPassword,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	var resp api.ProvisionResponse
	if err := callJSON(cmd.Context(), http.MethodPost, "/api/cms/users", req, &resp); err != nil {
		return err
	}
	return render(resp, func() {
		fmt.Fprintf(stdout, "Created %s (%s) as %s\n", resp.User.Email, resp.User.ID, resp.User.Role)
		if resp.Password != "" {
			fmt.Fprintf(stdout, "Generated password: %s\n", resp.Password)
			fmt.Fprintln(stdout, "Share it securely; it cannot be shown again.")
		}
	})
}

func userStatusRunner(status string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		update := api.UserUpdateRequest{Status: &status}
		var user models.User
		if err := callJSON(cmd.Context(), http.MethodPut, "/api/cms/users/"+url.PathEscape(args[0]), update, &user); err != nil {
			return err
		}
		return render(user, func() {
			fmt.Fprintf(stdout, "%s is now %s\n", user.Email, user.Status)
		})
	}
}

func runUsersDelete(cmd *cobra.Command, args []string) error {
	if err := callJSON(cmd.Context(), http.MethodDelete, "/api/cms/users/"+url.PathEscape(args[0]), nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Deleted user %s\n", args[0])
	return nil
}
