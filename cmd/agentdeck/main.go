package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"agentdeck/internal/auth"
	"agentdeck/internal/chat"
	"agentdeck/internal/config"
	"agentdeck/internal/conversation"
	"agentdeck/internal/logging"
	"agentdeck/internal/statecache"
	"agentdeck/internal/store"
	"agentdeck/internal/types"
)

var (
	// Global flags
	verbose    bool
	configPath string
	agentID    string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "agentdeck",
	Short: "agentdeck - per-agent conversation console",
	Long: `agentdeck is a local console for conversational AI agents.

Each running instance is scoped to one agent. Messages are mirrored in a
local SQLite store, reconciled against optimistic sends and push-delivered
inserts, and every response carries a full record of what the agent did
while producing it.

Run without arguments to start the interactive chat loop.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

// chatCmd starts the interactive chat loop explicitly
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat loop for the configured agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

// sessionsCmd lists known conversation sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List conversation sessions in the local store",
	RunE:  listSessions,
}

// initCmd writes a default config file
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config already exists: %s", configPath)
		}
		if err := config.DefaultConfig().Save(configPath); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", filepath.Join(".agentdeck", "config.yaml"), "config file path")
	rootCmd.PersistentFlags().StringVar(&agentID, "agent", "", "agent id (overrides config)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// deck bundles the wired components for one agent.
type deck struct {
	cfg        *config.Config
	agentID    string
	store      *store.Store
	cache      *statecache.Cache
	manager    *conversation.Manager
	seq        *conversation.ReconcileStore
	machine    *conversation.ProcessMachine
	sender     *conversation.Sender
	controller *conversation.Controller
	dispatcher *conversation.ActivationDispatcher
}

func buildDeck() (*deck, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if agentID != "" {
		cfg.AgentID = agentID
	}
	if cfg.AgentID == "" {
		return nil, fmt.Errorf("no agent id configured; set agent_id in %s or pass --agent", configPath)
	}

	if err := logging.Initialize("."); err != nil {
		logger.Warn("File logging unavailable", zap.Error(err))
	}
	logging.Boot("agentdeck starting: agent=%s", cfg.AgentID)

	db, err := store.NewStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	cache, err := statecache.Open(cfg.Storage.StateCachePath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open state cache: %w", err)
	}

	identity := auth.NewStaticProvider(cfg.Backend.APIKey, os.Getenv("USER"))
	client := chat.NewHTTPClient(chat.HTTPConfig{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.GetBackendTimeout(),
	}, identity)

	fresh := conversation.NewFreshnessSet()
	seq := conversation.NewReconcileStore(cfg.AgentID, db, db.Notifier(), fresh, cfg.Sync)
	manager := conversation.NewManager(cfg.AgentID, db, cache, identity)
	machine := conversation.NewProcessMachine(cfg.AgentID, seq, cfg.Sync.GetIndicatorHideDelay())
	sender := conversation.NewSender(cfg.AgentID, manager, seq, machine, client, db, identity, cache)
	dispatcher := conversation.NewActivationDispatcher()
	controller := conversation.NewController(cfg.AgentID, manager, seq, dispatcher, cache)

	return &deck{
		cfg:        cfg,
		agentID:    cfg.AgentID,
		store:      db,
		cache:      cache,
		manager:    manager,
		seq:        seq,
		machine:    machine,
		sender:     sender,
		controller: controller,
		dispatcher: dispatcher,
	}, nil
}

func (d *deck) close() {
	d.seq.Close()
	d.store.Close()
	logging.CloseAll()
}

func runChat(ctx context.Context) error {
	d, err := buildDeck()
	if err != nil {
		return err
	}
	defer d.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := d.controller.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Controller stopped", zap.Error(err))
		}
	}()

	fmt.Printf("agentdeck (agent %s). Type a message, /new, /archive, /rename <title>, or /quit.\n", d.agentID)
	printSequence(d.seq)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()
		if ctx.Err() != nil {
			return nil
		}

		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/new":
			d.manager.SyncSelection("")
			fmt.Println("Started over; next message opens a new conversation.")
		case line == "/archive":
			if d.manager.Archive(ctx) {
				fmt.Println("Conversation archived.")
			} else {
				fmt.Println("No active conversation to archive.")
			}
		case len(line) > 8 && line[:8] == "/rename ":
			if d.manager.Rename(ctx, line[8:]) {
				fmt.Println("Conversation renamed.")
			} else {
				fmt.Println("Rename needs an active conversation.")
			}
		default:
			if err := d.sender.Send(ctx, line); err != nil {
				fmt.Printf("Send failed: %v\n", err)
			}
			printSequence(d.seq)
		}
	}
}

// printSequence renders the merged message sequence, including process
// details on assistant messages that carry them.
func printSequence(seq *conversation.ReconcileStore) {
	for _, msg := range seq.Messages() {
		switch msg.Role {
		case types.RoleThinking:
			fmt.Println("  [agent is working...]")
		case types.RoleAssistant:
			fmt.Printf("  agent: %s\n", msg.Content)
			if d := msg.AIProcessDetails; d != nil {
				for _, step := range d.Steps {
					fmt.Printf("    - %s (%s)\n", step.Label, step.Duration.Round(time.Millisecond))
				}
				fmt.Printf("    took %s\n", d.TotalDuration.Round(time.Millisecond))
			}
		default:
			fmt.Printf("  you: %s\n", msg.Content)
		}
	}
}

func listSessions(cmd *cobra.Command, args []string) error {
	d, err := buildDeck()
	if err != nil {
		return err
	}
	defer d.close()

	rows, err := d.store.SessionsForAgent(cmd.Context(), d.agentID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}
	for _, row := range rows {
		title := row.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%-36s  %-9s  %-19s  %s\n",
			row.ConversationID, row.Status, row.LastActiveAt.Format("2006-01-02 15:04:05"), title)
	}
	return nil
}
