package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leetstack/keygate/internal/config"
	"github.com/leetstack/keygate/internal/model"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
		Long:  "Create and list the users API keys are issued to.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var u model.User

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Example: `  keygate user create --email jane@example.com --username jane
  keygate user create --email ci@example.com --first-name CI`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStoreFromFlags()
			if err != nil {
				return err
			}
			defer store.Close()
			return runUserCreate(cmd.Context(), store, cmd.OutOrStdout(), &u)
		},
	}

	cmd.Flags().StringVar(&u.Email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&u.Username, "username", "", "Display username")
	cmd.Flags().StringVar(&u.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&u.LastName, "last-name", "", "Last name")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(ctx context.Context, store *config.Store, out io.Writer, u *model.User) error {
	u.Email = strings.TrimSpace(u.Email)
	if u.Email == "" {
		return fmt.Errorf("--email must not be blank")
	}
	if err := store.CreateUser(ctx, u); err != nil {
		return err
	}

	fmt.Fprintln(out, "User created:")
	fmt.Fprintf(out, "  ID:       %s\n", u.ID)
	fmt.Fprintf(out, "  Email:    %s\n", u.Email)
	fmt.Fprintf(out, "  Username: %s\n", u.DisplayName())
	return nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStoreFromFlags()
			if err != nil {
				return err
			}
			defer store.Close()
			return runUserList(cmd.Context(), store, cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(ctx context.Context, store *config.Store, out io.Writer, jsonOutput bool) error {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	if len(users) == 0 {
		fmt.Fprintln(out, "No users. Use 'keygate user create' to add one.")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-32s %-20s\n", "ID", "EMAIL", "USERNAME")
	fmt.Fprintf(out, "%-36s %-32s %-20s\n", "--", "-----", "--------")
	for _, u := range users {
		fmt.Fprintf(out, "%-36s %-32s %-20s\n", u.ID, u.Email, u.Username)
	}
	return nil
}

// resolveUser accepts either a user ID or an email address.
func resolveUser(ctx context.Context, store *config.Store, ref string) (*model.User, error) {
	if strings.Contains(ref, "@") {
		u, err := store.GetUserByEmail(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("user %q: %w", ref, err)
		}
		return u, nil
	}
	u, err := store.GetUser(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", ref, err)
	}
	return u, nil
}
