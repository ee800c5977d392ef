package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/rxdesk/internal/auth"
	"github.com/kalambet/rxdesk/internal/config"
	"github.com/kalambet/rxdesk/internal/storage"
)

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		tw := newTable(os.Stdout)
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", k.Key, k.Value, k.EnvVar)
		}
		return tw.Flush()
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- screens ---

var screensCmd = &cobra.Command{
	Use:   "screens",
	Short: "List the screen table and required permissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			if cfg, err := config.Load(); err == nil {
				file = cfg.Screens.File
			}
		}
		reg, err := loadScreens(file)
		if err != nil {
			return err
		}
		tw := newTable(os.Stdout)
		for _, k := range reg.Keys() {
			s, _ := reg.Screen(k)
			perms := "(public)"
			if len(s.Permissions) > 0 {
				perms = strings.Join(s.Permissions, ", ")
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", k, s.Component, perms)
		}
		return tw.Flush()
	},
}

func init() {
	screensCmd.Flags().String("file", "", "screen table YAML (default: configured or built-in)")
}

// --- user ---

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage employees",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create an employee login",
	Long: `Create an employee login. The password is read from stdin.

Examples:
  echo 's3cret' | rxdesk user add cass --name "Cass" --role cashier --perms pos.access,dashboard.view
  echo 's3cret' | rxdesk user add ada --role admin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		role, _ := cmd.Flags().GetString("role")
		perms, _ := cmd.Flags().GetString("perms")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		emp, err := addUser(cmd.Context(), store, os.Stdin, args[0], name, role, splitList(perms))
		if err != nil {
			return err
		}
		printSuccess("Created %s (%s) with role %s", emp.Username, emp.ID, emp.Role)
		return nil
	},
}

func init() {
	userAddCmd.Flags().String("name", "", "display name (default: username)")
	userAddCmd.Flags().String("role", "staff", "role name")
	userAddCmd.Flags().String("perms", "", "comma-separated permissions")
	userCmd.AddCommand(userAddCmd)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func addUser(ctx context.Context, store *storage.Store, passwordIn io.Reader, username, name, role string, perms []string) (storage.Employee, error) {
	raw, err := io.ReadAll(io.LimitReader(passwordIn, 1024))
	if err != nil {
		return storage.Employee{}, fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(string(raw), "\r\n")
	if len(password) < 8 {
		return storage.Employee{}, fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return storage.Employee{}, fmt.Errorf("hashing password: %w", err)
	}
	if name == "" {
		name = username
	}
	emp := storage.Employee{
		ID:           uuid.NewString(),
		Username:     username,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
		Permissions:  perms,
	}
	if err := store.CreateEmployee(ctx, emp); err != nil {
		return storage.Employee{}, fmt.Errorf("creating employee: %w", err)
	}
	return emp, nil
}

// --- login ---

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Sign in and print a session token",
	Long: `Sign in and print a session token. The password is read from stdin.

Example:
  export RXDESK_TOKEN=$(echo 's3cret' | rxdesk login cass)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := io.ReadAll(io.LimitReader(os.Stdin, 1024))
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		tok, err := login(cmd.Context(), client, args[0], strings.TrimRight(string(raw), "\r\n"))
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func login(ctx context.Context, c *apiClient, username, password string) (string, error) {
	resp, err := c.post(ctx, "/auth/login", map[string]string{"username": username, "password": password})
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// --- stock ---

var stockCmd = &cobra.Command{
	Use:   "stock <warehouse>",
	Short: "Show on-hand stock for a warehouse",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		levels, err := fetchStock(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		writeStock(os.Stdout, levels)
		return nil
	},
}

// writeStock prints levels sorted by product ID.
func writeStock(w io.Writer, levels map[string]int64) {
	ids := make([]string, 0, len(levels))
	for id := range levels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	tw := newTable(w)
	for _, id := range ids {
		fmt.Fprintf(tw, "  %s\t%s\n", id, formatQty(levels[id]))
	}
	tw.Flush()
}

func fetchStock(ctx context.Context, c *apiClient, warehouse string) (map[string]int64, error) {
	resp, err := c.get(ctx, "/inventory/"+url.PathEscape(warehouse))
	if err != nil {
		return nil, err
	}
	var out struct {
		Levels map[string]int64 `json:"levels"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Levels, nil
}
