// Command regctl is the companion admin CLI: a pure HTTP client against the
// registry's /admin endpoints, authenticating with HTTP Basic. Grounded on
// original_source/src/bin/grainctl.rs, whose subcommand tree (user
// list|create|delete|add-permission) this mirrors one-for-one with
// spf13/cobra in place of clap.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	url      string
	username string
	password string
)

func main() {
	root := &cobra.Command{
		Use:   "regctl",
		Short: "CLI tool for administering the grain OCI registry",
	}
	root.PersistentFlags().StringVar(&url, "url", os.Getenv("GRAIN_URL"), "base URL of the registry (env GRAIN_URL)")
	root.PersistentFlags().StringVar(&username, "admin-user", os.Getenv("GRAIN_ADMIN_USER"), "admin username (env GRAIN_ADMIN_USER)")
	root.PersistentFlags().StringVar(&password, "admin-password", os.Getenv("GRAIN_ADMIN_PASSWORD"), "admin password (env GRAIN_ADMIN_PASSWORD)")

	userCmd := &cobra.Command{Use: "user", Short: "user management"}
	userCmd.AddCommand(userListCmd(), userCreateCmd(), userDeleteCmd(), userAddPermissionCmd())
	root.AddCommand(userCmd)
	root.AddCommand(gcCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func client() *http.Client {
	return &http.Client{}
}

func request(method, path string, body interface{}) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(username, password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return client().Do(req)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	fmt.Printf("%s\n%s\n", resp.Status, data)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed with status %s", resp.Status)
	}
	return nil
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := request(http.MethodGet, "/admin/users", nil)
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
}

func userCreateCmd() *cobra.Command {
	var pass string
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "create a new user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := request(http.MethodPost, "/admin/users", map[string]interface{}{
				"username":    args[0],
				"password":    pass,
				"permissions": []interface{}{},
			})
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
	cmd.Flags().StringVar(&pass, "pass", "", "password for the new user")
	return cmd
}

func userDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <username>",
		Short: "delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := request(http.MethodDelete, "/admin/users/"+args[0], nil)
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
}

func userAddPermissionCmd() *cobra.Command {
	var repo, tag string
	var actions []string
	cmd := &cobra.Command{
		Use:   "add-permission <username>",
		Short: "grant a user a repository/tag/action permission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := request(http.MethodPost, "/admin/users/"+args[0]+"/permissions", map[string]interface{}{
				"repository": repo,
				"tag":        tag,
				"actions":    actions,
			})
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
	cmd.Flags().StringVar(&repo, "repository", "*", "repository pattern")
	cmd.Flags().StringVar(&tag, "tag", "*", "tag pattern")
	cmd.Flags().StringSliceVar(&actions, "actions", []string{"pull"}, "comma-separated actions (pull,push,delete)")
	return cmd
}

func gcCmd() *cobra.Command {
	var dryRun bool
	var graceHours int
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "trigger garbage collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/admin/gc?dry_run=%t&grace_period_hours=%d", dryRun, graceHours)
			resp, err := request(http.MethodPost, path, nil)
			if err != nil {
				return err
			}
			return printResponse(resp)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview without deleting")
	cmd.Flags().IntVar(&graceHours, "grace-period-hours", 24, "minimum blob age before deletion")
	return cmd
}
