package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leetstack/keygate/internal/config"
	"github.com/leetstack/keygate/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, revoke, and rotate the API keys users log in with.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyRotateCmd())

	return cmd
}

// newKeyManager opens the store and wraps it in a KeyManager. The caller
// closes the returned store.
func newKeyManager() (*service.KeyManager, *config.Store, error) {
	hasher, err := service.NewHasher()
	if err != nil {
		return nil, nil, err
	}
	store, _, err := openStoreFromFlags()
	if err != nil {
		return nil, nil, err
	}
	return service.NewKeyManager(store, hasher), store, nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printIssued shows a freshly issued key. When out is not a terminal only
// the raw key is written, so the output can be piped.
func printIssued(out io.Writer, issued *service.IssuedKey, email string) {
	if !isTerminal(out) {
		fmt.Fprintln(out, issued.RawKey)
		return
	}
	fmt.Fprintln(out, "API Key created:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Key:    %s\n", issued.RawKey)
	fmt.Fprintf(out, "  ID:     %s\n", issued.Key.ID)
	fmt.Fprintf(out, "  User:   %s\n", email)
	if issued.Key.Label != "" {
		fmt.Fprintf(out, "  Label:  %s\n", issued.Key.Label)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		user  string
		label string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key for a user. The raw key is shown once and cannot be retrieved again.",
		Example: `  keygate key create --user jane@example.com --label "CI pipeline"
  export LSK=$(keygate key create --user jane@example.com)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, store, err := newKeyManager()
			if err != nil {
				return err
			}
			defer store.Close()
			return runKeyCreate(cmd.Context(), mgr, store, cmd.OutOrStdout(), user, label)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User ID or email the key belongs to (required)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyCreate(ctx context.Context, mgr *service.KeyManager, store *config.Store, out io.Writer, userRef, label string) error {
	u, err := resolveUser(ctx, store, userRef)
	if err != nil {
		return err
	}
	issued, err := mgr.Issue(ctx, u.ID, label)
	if err != nil {
		return err
	}
	printIssued(out, issued, u.Email)
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		user       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, store, err := newKeyManager()
			if err != nil {
				return err
			}
			defer store.Close()
			return runKeyList(cmd.Context(), mgr, store, cmd.OutOrStdout(), user, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Only list keys of this user (ID or email)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(ctx context.Context, mgr *service.KeyManager, store *config.Store, out io.Writer, userRef string, jsonOutput bool) error {
	userID := ""
	if userRef != "" {
		u, err := resolveUser(ctx, store, userRef)
		if err != nil {
			return err
		}
		userID = u.ID
	}

	keys, err := mgr.List(ctx, userID)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Fprintln(out, "No API keys. Use 'keygate key create' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-14s %-36s %-20s %-8s %s\n", "ID", "PREFIX", "USER", "LABEL", "ACTIVE", "LAST USED")
	for _, k := range keys {
		active := "yes"
		if !k.Active() {
			active = "no"
		}
		lastUsed := "never"
		if k.LastUsed != nil {
			lastUsed = k.LastUsed.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%-36s %-14s %-36s %-20s %-8s %s\n", k.ID, k.KeyPrefix, k.UserID, k.Label, active, lastUsed)
	}
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id-or-prefix>",
		Short: "Revoke an API key by ID or prefix",
		Long:  "Revoke an API key. Its next login attempt and any session it produced are rejected.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, store, err := newKeyManager()
			if err != nil {
				return err
			}
			defer store.Close()
			return runKeyRevoke(cmd.Context(), mgr, cmd.OutOrStdout(), args[0])
		},
	}
}

func runKeyRevoke(ctx context.Context, mgr *service.KeyManager, out io.Writer, ref string) error {
	var err error
	if strings.HasPrefix(ref, service.KeyPrefix) {
		err = mgr.RevokeByPrefix(ctx, ref)
	} else {
		err = mgr.Revoke(ctx, ref)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Revoked API key %q\n", ref)
	return nil
}

// ---------- key rotate ----------

func newKeyRotateCmd() *cobra.Command {
	var (
		user  string
		label string
	)

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Replace all of a user's keys with a new one",
		Long:  "Delete every API key a user has and issue a single replacement.",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, store, err := newKeyManager()
			if err != nil {
				return err
			}
			defer store.Close()
			return runKeyRotate(cmd.Context(), mgr, store, cmd.OutOrStdout(), cmd.ErrOrStderr(), user, label)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User ID or email (required)")
	cmd.Flags().StringVar(&label, "label", "", "Label for the replacement key")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runKeyRotate(ctx context.Context, mgr *service.KeyManager, store *config.Store, out, errOut io.Writer, userRef, label string) error {
	u, err := resolveUser(ctx, store, userRef)
	if err != nil {
		return err
	}
	issued, removed, err := mgr.Rotate(ctx, u.ID, label)
	if err != nil {
		return err
	}
	fmt.Fprintf(errOut, "Removed %d key(s) for %s\n", removed, u.Email)
	printIssued(out, issued, u.Email)
	return nil
}
