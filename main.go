package main

// main.go

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/meinside/openai-go"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tectiv3/docchat/assistant"
	"github.com/tectiv3/docchat/auth"
	"github.com/tectiv3/docchat/extract"
	"github.com/tectiv3/docchat/session"
	"github.com/tectiv3/docchat/tools"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		Log.Info("No .env file found, using environment variables")
	}

	confFilepath := "config.json"
	if len(os.Args) == 2 {
		confFilepath = os.Args[1]
	}

	conf, err := loadConfig(confFilepath)
	if err != nil {
		Log.Fatal("failed to load config: ", err)
	}
	setupLogger(conf.Verbose)

	if err := run(conf); err != nil {
		Log.Fatal(err)
	}
}

func run(conf config) error {
	db, err := openDB(conf.DBDSN, conf.Verbose)
	if err != nil {
		return err
	}

	ai := openai.NewClient(conf.OpenAIAPIKey, conf.OpenAIOrganizationID)
	ai.Verbose = conf.Verbose

	apiConf := goopenai.DefaultConfig(conf.OpenAIAPIKey)
	apiConf.OrgID = conf.OpenAIOrganizationID
	api := goopenai.NewClientWithConfig(apiConf)

	s, err := newServer(conf, db, ai, api)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := s.assistant.EnsureAssistant(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:        ":" + conf.Port,
		Handler:     s.setupRouter(),
		ReadTimeout: 30 * time.Second,
		// assistant runs may take up to the run timeout
		WriteTimeout: conf.runTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		Log.WithField("port", conf.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	Log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// newServer wires the server components
func newServer(conf config, db *gorm.DB, ai completer, api assistant.API) (*Server, error) {
	tokens, err := auth.NewIssuer(conf.JWTSecret)
	if err != nil {
		return nil, err
	}

	registry, err := assistant.NewRegistry(tools.Defaults()...)
	if err != nil {
		return nil, err
	}

	s := &Server{
		conf:     conf,
		db:       db,
		ai:       ai,
		sessions: session.New(conf.HistoryLimit),
		tokens:   tokens,
		metrics:  newMetrics(),
	}
	s.files = extract.New(s)
	s.assistant = assistant.NewService(api, registry, assistant.Config{
		DescriptorPath: conf.AssistantFile,
		Model:          conf.AssistantModel,
		RunTimeout:     conf.runTimeout,
	})

	return s, nil
}
