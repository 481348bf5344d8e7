package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/llm-chat-go/internal/chat"
	"github.com/llm-chat-go/internal/config"
	"github.com/llm-chat-go/internal/i18n"
	"github.com/llm-chat-go/internal/middleware"
	"github.com/llm-chat-go/internal/models"
	"github.com/llm-chat-go/internal/services/storage"
	"github.com/llm-chat-go/pkg/logger"
	"github.com/llm-chat-go/pkg/markdown"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Fprintf(os.Stderr, "Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting chat client...")
	log.WithField("key_length", len(cfg.API.Key)).Debug("API key loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	storageManager, err := storage.NewManager(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}
	lang := cfg.I18n.DefaultLanguage

	// Start metrics server if enabled
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Initialize session
	session, err := chat.NewSession(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create chat session")
	}
	sessionLog := logger.WithSession(log, cfg.History.SessionID, cfg.API.Model)

	// Restore persisted history
	if cfg.History.Autosave {
		snapshot, err := storageManager.LoadHistory(ctx, cfg.History.SessionID)
		if err != nil {
			sessionLog.WithError(err).Warn("Failed to load history")
		} else if snapshot != nil && len(snapshot.Messages) > 0 {
			session.ImportHistory(snapshot.Messages)
			fmt.Println(localizer.Get(lang, i18n.MsgHistoryLoaded, map[string]interface{}{
				"Count": len(snapshot.Messages),
			}))
		}
	}

	fmt.Println(localizer.Get(lang, i18n.MsgWelcome, map[string]interface{}{
		"Model": cfg.API.Model,
	}))

	runREPL(ctx, session, localizer, lang)

	// Persist history on exit
	if cfg.History.Autosave {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		snapshot := &models.HistorySnapshot{
			SessionID: cfg.History.SessionID,
			Messages:  session.ExportHistory(),
			SavedAt:   time.Now(),
		}
		if err := storageManager.SaveHistory(saveCtx, snapshot); err != nil {
			sessionLog.WithError(err).Error("Failed to save history")
		}
	}

	fmt.Println(localizer.Get(lang, i18n.MsgGoodbye, nil))
	sessionLog.Info("Chat client stopped")
}

func runREPL(ctx context.Context, session *chat.Session, localizer *i18n.Localizer, lang string) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return

		case line == "/help":
			fmt.Println(localizer.Get(lang, i18n.MsgHelp, nil))

		case line == "/clear":
			session.ClearHistory()
			fmt.Println(localizer.Get(lang, i18n.MsgHistoryCleared, nil))

		case line == "/history":
			printHistory(session.ExportHistory(), localizer, lang)

		case strings.HasPrefix(line, "/queue "):
			session.QueueRequest(strings.TrimPrefix(line, "/queue "))
			fmt.Println(localizer.Get(lang, i18n.MsgQueued, map[string]interface{}{
				"Pending": session.PendingRequests(),
			}))

		case line == "/batch":
			responses, err := session.ProcessBatch(ctx)
			if err != nil {
				printError(err, localizer, lang)
				continue
			}
			if len(responses) == 0 {
				fmt.Println(localizer.Get(lang, i18n.MsgBatchEmpty, nil))
				continue
			}
			for i, response := range responses {
				fmt.Printf("[%d] %s\n", i+1, markdown.ToTerminal(response))
			}

		default:
			if err := streamReply(ctx, session, line); err != nil {
				printError(err, localizer, lang)
			}
		}
	}
}

// streamReply sends one message and prints fragments as they arrive
func streamReply(ctx context.Context, session *chat.Session, text string) error {
	stream, err := session.SendMessageStream(ctx, text)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			fmt.Println()
			return err
		}
		fmt.Print(fragment)
	}
}

func printHistory(messages []models.Message, localizer *i18n.Localizer, lang string) {
	if len(messages) == 0 {
		fmt.Println(localizer.Get(lang, i18n.MsgHistoryEmpty, nil))
		return
	}
	for _, msg := range messages {
		if msg.Role == models.RoleAssistant {
			fmt.Printf("%s: %s\n", msg.Role, markdown.ToTerminal(msg.Content))
		} else {
			fmt.Printf("%s: %s\n", msg.Role, msg.Content)
		}
	}
}

func printError(err error, localizer *i18n.Localizer, lang string) {
	fmt.Println(localizer.Get(lang, i18n.MsgError, map[string]interface{}{
		"Error": err.Error(),
	}))
}
