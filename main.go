package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/inboxforge/telegram-inbox/internal/attach"
	"github.com/inboxforge/telegram-inbox/internal/config"
	"github.com/inboxforge/telegram-inbox/internal/events"
	"github.com/inboxforge/telegram-inbox/internal/notebook"
	"github.com/inboxforge/telegram-inbox/internal/poller"
	"github.com/inboxforge/telegram-inbox/internal/store"
	"github.com/inboxforge/telegram-inbox/internal/telegram"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("telegram-inbox starting", "listen", cfg.ListenAddr)

	st, err := store.Open(filepath.Join(cfg.DataDir, "inbox.db"))
	if err != nil {
		logger.Error("open store failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	offset, err := st.LoadOffset(context.Background())
	if err != nil {
		logger.Error("load checkpoint failed", "error", err)
		os.Exit(1)
	}

	tg := telegram.NewClient(telegram.DefaultBaseURL, cfg.Telegram.BotToken)

	var (
		nb      *notebook.Client
		fetcher poller.AttachmentFetcher
	)
	if cfg.Notebook.BaseURL != "" {
		nb = notebook.NewClient(cfg.Notebook.BaseURL, cfg.Notebook.APIToken)
		fetcher = attach.NewFetcher(tg, nb, cfg.Notebook.GetAssetsDir(), logger)
	}

	sinks := []poller.Sink{st}
	if cfg.NATS.URL != "" {
		pub, err := events.NewPublisher(cfg.NATS.URL)
		if err != nil {
			logger.Error("connect to NATS failed", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		if err := pub.EnsureStream(context.Background()); err != nil {
			logger.Error("ensure event stream failed", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, pub)
	}

	p, err := poller.New(poller.Config{
		Token:          cfg.Telegram.BotToken,
		Interval:       cfg.Telegram.PollInterval(),
		StartOffset:    offset,
		AuthorizedUser: cfg.Telegram.AuthorizedUser,
	}, tg, fetcher, poller.MultiSink(sinks...), logger)
	if err != nil {
		// Configuration errors surface before any network call.
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	p.Start()

	r := gin.Default()
	api := r.Group("/", authMiddleware(cfg.APIToken))

	api.GET("/inbox", func(c *gin.Context) {
		messages, err := st.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if messages == nil {
			messages = []store.StoredMessage{}
		}
		c.JSON(http.StatusOK, gin.H{"messages": messages})
	})

	api.POST("/inbox/:id/check", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
			return
		}

		var req struct {
			Checked bool `json:"checked"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := st.SetChecked(c.Request.Context(), id, req.Checked); err != nil {
			if err == store.ErrNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.DELETE("/inbox/:id", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
			return
		}
		if err := st.Remove(c.Request.Context(), []int64{id}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.POST("/inbox/move", moveHandler(st, nb, cfg.Notebook.NotebookID, logger))

	api.GET("/poller/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"state":  p.State(),
			"offset": p.Offset(),
		})
	})

	api.POST("/poller/start", func(c *gin.Context) {
		p.Start()
		c.JSON(http.StatusOK, gin.H{"state": p.State()})
	})

	api.POST("/poller/stop", func(c *gin.Context) {
		p.Stop()
		c.JSON(http.StatusOK, gin.H{"state": p.State()})
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
	logger.Info("shutting down, waiting for in-flight cycle...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := p.Terminate(shutdownCtx); err != nil {
		logger.Warn("poller did not stop cleanly", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", "error", err)
	}
	logger.Info("telegram-inbox stopped")
}

// moveHandler moves checked inbox messages into today's daily note; if
// none are checked, it moves everything. One flat block per message.
func moveHandler(st *store.Store, nb *notebook.Client, notebookID string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if nb == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notebook is not configured"})
			return
		}

		ctx := c.Request.Context()
		messages, err := st.List(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(messages) == 0 {
			c.JSON(http.StatusOK, gin.H{"moved": 0})
			return
		}

		var targets []store.StoredMessage
		for _, m := range messages {
			if m.Checked {
				targets = append(targets, m)
			}
		}
		if len(targets) == 0 {
			targets = messages
		}

		docID, err := nb.CreateDailyNote(ctx, notebookID)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		ids := make([]int64, 0, len(targets))
		for _, m := range targets {
			if err := nb.PrependBlock(ctx, docID, renderBlock(m)); err != nil {
				logger.Error("prepend block failed", "message_id", m.ID, "error", err)
				continue
			}
			ids = append(ids, m.ID)
		}

		if err := st.Remove(ctx, ids); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"moved": len(ids), "doc_id": docID})
	}
}

// renderBlock formats one inbox message as a markdown list item.
func renderBlock(m store.StoredMessage) string {
	text := m.Text
	for _, a := range m.Attachments {
		if text != "" {
			text += " "
		}
		text += fmt.Sprintf("[%s](%s)", a.Name, a.Path)
	}
	return fmt.Sprintf("- %s #inbox", text)
}

// authMiddleware enforces the configured API token. An empty token
// leaves the API open.
func authMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if len(header) > 7 && header[:7] == "Bearer " {
			header = header[7:]
		}
		if header != token {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api token"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
