// Package main provides the CLI entry point for ticketctl.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/trackwell/ticketbridge/internal/auth"
	"github.com/trackwell/ticketbridge/internal/config"
	"github.com/trackwell/ticketbridge/internal/provider"
	"github.com/trackwell/ticketbridge/internal/richtext"
	"github.com/trackwell/ticketbridge/internal/ticket"
)

// Output format constants.
const (
	outputJSON = "json"
	outputYAML = "yaml"
	outputText = "text"
)

// opTimeout bounds a single CLI operation end to end, including lazy
// detection and negotiation on first use.
const opTimeout = 30 * time.Second

var (
	// Global flags
	flagConnection string
	flagConfigPath string
	flagVerbose    bool

	// Search flags
	searchProject string
	searchLimit   int
	searchOutput  string

	// Get flags
	getOutput string

	// Create flags
	createProject     string
	createTitle       string
	createDescription string
	createPriority    string
	createAssignee    string
	createPoints      float64
	createEpic        string
	createSprint      string
	createTeam        string
	createDue         string

	// Meta flags
	metaOutput string

	// Login flags
	loginToken    string
	loginUsername string
	loginSecret   string

	// Global state (lazy initialized)
	cfg            *config.Config
	connectionName string
	activeProvider *provider.Provider

	credStore auth.Store = auth.KeyringStore{}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ticketctl",
	Short: "Unified CLI for Jira and Linear issue tracking",
	Long: `ticketctl works tickets through one contract regardless of backend:
Jira Cloud, Jira Server/Data Center, or Linear. The backend's API
version and capabilities are detected on first use; credentials come
from the OS keyring (see "ticketctl login") or environment variables.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConnection, "connection", "c", "", "connection name (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "explicit config file path")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	searchCmd.Flags().StringVarP(&searchProject, "project", "p", "", "project/team key filter")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum results")
	searchCmd.Flags().StringVarP(&searchOutput, "output", "o", outputText, "output format (text|json|yaml)")

	getCmd.Flags().StringVarP(&getOutput, "output", "o", outputText, "output format (text|json|yaml)")

	createCmd.Flags().StringVarP(&createProject, "project", "p", "", "project/team key (required)")
	createCmd.Flags().StringVarP(&createTitle, "title", "t", "", "ticket title (required)")
	createCmd.Flags().StringVarP(&createDescription, "description", "d", "", "description (markdown)")
	createCmd.Flags().StringVar(&createPriority, "priority", "", "priority name")
	createCmd.Flags().StringVar(&createAssignee, "assignee", "", "assignee identifier")
	createCmd.Flags().Float64Var(&createPoints, "points", 0, "story points")
	createCmd.Flags().StringVar(&createEpic, "epic", "", "epic/parent link")
	createCmd.Flags().StringVar(&createSprint, "sprint", "", "sprint/cycle identifier")
	createCmd.Flags().StringVar(&createTeam, "team", "", "team field value")
	createCmd.Flags().StringVar(&createDue, "due", "", "due date (YYYY-MM-DD)")
	_ = createCmd.MarkFlagRequired("project")
	_ = createCmd.MarkFlagRequired("title")

	metaCmd.Flags().StringVarP(&metaOutput, "output", "o", outputText, "output format (text|json|yaml)")

	loginCmd.Flags().StringVar(&loginToken, "token", "", "API token / personal access token")
	loginCmd.Flags().StringVar(&loginUsername, "username", "", "basic auth username (email on Jira Cloud)")
	loginCmd.Flags().StringVar(&loginSecret, "secret", "", "basic auth password or API token")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(getCmd, searchCmd, createCmd, moveCmd, commentCmd,
		metaCmd, whoamiCmd, infoCmd, loginCmd, logoutCmd, configCmd)
}

// initConfig loads the configuration with proper precedence.
func initConfig() error {
	if cfg != nil {
		return nil
	}

	loaded, err := config.Load(config.LoadOptions{ExplicitPath: flagConfigPath})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// initProvider builds the provider for the selected connection. All
// backend commands call this lazily; no network traffic happens here.
func initProvider() error {
	if activeProvider != nil {
		return nil
	}
	if err := initConfig(); err != nil {
		return err
	}

	name, conn, err := cfg.Connection(flagConnection)
	if err != nil {
		return err
	}
	connectionName = name

	creds, err := loadCredentials(name)
	if err != nil {
		return err
	}

	logger := log.Logger{Level: log.WarnLevel, Writer: &log.ConsoleWriter{Writer: os.Stderr}}
	if flagVerbose {
		logger.Level = log.DebugLevel
	}

	activeProvider = provider.New(provider.Config{
		Connection:     name,
		Backend:        conn.BackendKind(),
		BaseURL:        conn.BaseURL,
		DeploymentHint: conn.DeploymentHint(),
		Credentials:    creds,
		Logger:         logger,
		OnWarning: func(w ticket.Warning) {
			fmt.Fprintln(os.Stderr, "warning: "+w.String())
		},
	})
	return nil
}

// loadCredentials merges environment material over the keyring entry.
func loadCredentials(connection string) (auth.Credentials, error) {
	creds, err := credStore.Get(connection)
	if err != nil && !errors.Is(err, auth.ErrNoCredential) && !errors.Is(err, auth.ErrKeyringNotAvail) {
		return auth.Credentials{}, err
	}

	token, username, secret := config.EnvCredentials()
	if token != "" {
		creds.Token = token
	}
	if username != "" {
		creds.Username = username
	}
	if secret != "" {
		creds.Secret = secret
	}

	if creds.Empty() {
		return auth.Credentials{}, fmt.Errorf("no credentials for connection %q: run \"ticketctl login\" or set %s",
			connection, config.EnvToken)
	}
	return creds, nil
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

var getCmd = &cobra.Command{
	Use:   "get <ticket>",
	Short: "Show one ticket",
	Args:  cobra.ExactArgs(1),
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return initProvider()
	},
	RunE: func(_ *cobra.Command, args []string) error {
		ctx, cancel := opContext()
		defer cancel()

		t, err := activeProvider.GetTicket(ctx, args[0])
		if err != nil {
			return err
		}
		return renderTicket(t, getOutput)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search tickets",
	Args:  cobra.MaximumNArgs(1),
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return initProvider()
	},
	RunE: func(_ *cobra.Command, args []string) error {
		query := ""
		if len(args) > 0 {
			query = args[0]
		}

		ctx, cancel := opContext()
		defer cancel()

		tickets, err := activeProvider.Search(ctx, query, ticket.SearchOptions{
			ProjectKey: searchProject,
			Limit:      searchLimit,
		})
		if err != nil {
			return err
		}

		switch searchOutput {
		case outputJSON:
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(tickets)
		case outputYAML:
			return yaml.NewEncoder(os.Stdout).Encode(tickets)
		default:
			for _, t := range tickets {
				fmt.Printf("%-12s %-14s %s\n", t.Key, t.Status, t.Title)
			}
		}
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a ticket",
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return initProvider()
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		input := ticket.CreateInput{
			ProjectKey: createProject,
			Title:      createTitle,
			Priority:   createPriority,
			Assignee:   createAssignee,
		}

		if createDescription != "" {
			doc, err := richtext.FromWire(richtext.WireDoc{
				Format: richtext.FormatMarkdown,
				Text:   createDescription,
			})
			if err != nil {
				return fmt.Errorf("parse description: %w", err)
			}
			input.Description = doc
		}

		fields := make(map[ticket.SemanticField]any)
		if cmd.Flags().Changed("points") {
			fields[ticket.FieldStoryPoints] = createPoints
		}
		if createEpic != "" {
			fields[ticket.FieldEpicLink] = createEpic
		}
		if createSprint != "" {
			fields[ticket.FieldSprint] = createSprint
		}
		if createTeam != "" {
			fields[ticket.FieldTeam] = createTeam
		}
		if createDue != "" {
			fields[ticket.FieldDueDate] = createDue
		}
		if len(fields) > 0 {
			input.Fields = fields
		}

		ctx, cancel := opContext()
		defer cancel()

		t, err := activeProvider.Create(ctx, input)
		if err != nil {
			return err
		}
		fmt.Printf("created %s\n%s\n", t.Key, t.URL)
		return nil
	},
}

var moveCmd = &cobra.Command{
	Use:   "move <ticket> <status>",
	Short: "Move a ticket to another status",
	Args:  cobra.ExactArgs(2),
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return initProvider()
	},
	RunE: func(_ *cobra.Command, args []string) error {
		ctx, cancel := opContext()
		defer cancel()

		if err := activeProvider.UpdateStatus(ctx, args[0], args[1]); err != nil {
			var invalid *ticket.InvalidTransitionError
			if errors.As(err, &invalid) {
				return fmt.Errorf("%s cannot move to %q from %q; allowed: %v",
					invalid.TicketID, invalid.TargetStatus, invalid.FromStatus, invalid.Allowed)
			}
			return err
		}
		fmt.Printf("%s -> %s\n", args[0], args[1])
		return nil
	},
}

var commentCmd = &cobra.Command{
	Use:   "comment <ticket> <body>",
	Short: "Add a comment (markdown)",
	Args:  cobra.ExactArgs(2),
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return initProvider()
	},
	RunE: func(_ *cobra.Command, args []string) error {
		doc, err := richtext.FromWire(richtext.WireDoc{
			Format: richtext.FormatMarkdown,
			Text:   args[1],
		})
		if err != nil {
			return fmt.Errorf("parse comment: %w", err)
		}

		ctx, cancel := opContext()
		defer cancel()

		if err := activeProvider.AddComment(ctx, args[0], doc); err != nil {
			return err
		}
		fmt.Println("comment added")
		return nil
	},
}

var metaCmd = &cobra.Command{
	Use:       "meta <kind>",
	Short:     "List backend metadata (projects|statuses|priorities|sprints)",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"projects", "statuses", "priorities", "sprints"},
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return initProvider()
	},
	RunE: func(_ *cobra.Command, args []string) error {
		ctx, cancel := opContext()
		defer cancel()

		items, err := activeProvider.ListMetadata(ctx, ticket.MetadataKind(args[0]))
		if err != nil {
			return err
		}

		switch metaOutput {
		case outputJSON:
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		case outputYAML:
			return yaml.NewEncoder(os.Stdout).Encode(items)
		default:
			for _, item := range items {
				if item.Key != "" {
					fmt.Printf("%-10s %s\n", item.Key, item.Name)
				} else {
					fmt.Printf("%-10s %s\n", item.ID, item.Name)
				}
			}
		}
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the authenticated identity",
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return initProvider()
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, cancel := opContext()
		defer cancel()

		user, err := activeProvider.CurrentUser(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Name:    %s\n", user.DisplayName)
		if user.Username != "" {
			fmt.Printf("User:    %s\n", user.Username)
		}
		if user.Email != "" {
			fmt.Printf("Email:   %s\n", user.Email)
		}
		fmt.Printf("Account: %s\n", user.AccountID)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the connection's detected server profile",
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return initProvider()
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, cancel := opContext()
		defer cancel()

		profile, err := activeProvider.Profile(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Connection: %s\n", connectionName)
		fmt.Printf("Profile:    %s\n", profile)
		fmt.Printf("Bulk ops:   %v\n", profile.Capabilities.BulkOperations)
		fmt.Printf("Field introspection: %v\n", profile.Capabilities.FieldSchemaIntrospection)
		fmt.Printf("Agile endpoints:     %v\n", profile.Capabilities.AgileEndpoints)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store credentials for a connection in the OS keyring",
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		name, _, err := cfg.Connection(flagConnection)
		if err != nil {
			return err
		}

		creds := auth.Credentials{
			Token:    loginToken,
			Username: loginUsername,
			Secret:   loginSecret,
		}
		if creds.Empty() {
			return errors.New("provide --token and/or --username with --secret")
		}

		if err := credStore.Set(name, creds); err != nil {
			return fmt.Errorf("store credentials: %w", err)
		}
		fmt.Printf("credentials stored for %q\n", name)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove a connection's stored credentials",
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		name, _, err := cfg.Connection(flagConnection)
		if err != nil {
			return err
		}
		if err := credStore.Delete(name); err != nil {
			return fmt.Errorf("delete credentials: %w", err)
		}
		fmt.Printf("credentials removed for %q\n", name)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration and discovered files",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := initConfig(); err != nil {
			return err
		}

		global, project := config.DiscoveredPaths()
		if global != "" {
			fmt.Printf("# global:  %s\n", global)
		}
		if project != "" {
			fmt.Printf("# project: %s\n", project)
		}
		fmt.Print(cfg.String())
		return nil
	},
}

// renderTicket prints one ticket in the requested format. Text output
// renders the description back to markdown, which every supported
// construct survives.
func renderTicket(t *ticket.Ticket, format string) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	case outputYAML:
		return yaml.NewEncoder(os.Stdout).Encode(t)
	}

	fmt.Printf("%s  %s\n", t.Key, t.Title)
	fmt.Printf("Status:   %s\n", t.Status)
	if t.Assignee != "" {
		fmt.Printf("Assignee: %s\n", t.Assignee)
	}
	if t.Priority != "" {
		fmt.Printf("Priority: %s\n", t.Priority)
	}
	if t.ProjectKey != "" {
		fmt.Printf("Project:  %s\n", t.ProjectKey)
	}
	for _, semantic := range ticket.SemanticFields() {
		if value, ok := t.Fields[semantic]; ok {
			fmt.Printf("%s: %s\n", semantic, formatFieldValue(value))
		}
	}
	if t.URL != "" {
		fmt.Printf("URL:      %s\n", t.URL)
	}
	if t.Description != nil {
		wire, _ := richtext.ToWire(t.Description, richtext.FormatMarkdown)
		fmt.Printf("\n%s\n", wire.Text)
	}
	return nil
}

func formatFieldValue(value any) string {
	switch v := value.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
