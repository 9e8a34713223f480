package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/mathpath/mathexam/internal/apperr"
	"github.com/mathpath/mathexam/internal/auth"
	"github.com/mathpath/mathexam/internal/exam"
	"github.com/mathpath/mathexam/internal/handler"
	appI18n "github.com/mathpath/mathexam/internal/i18n"
	"github.com/mathpath/mathexam/internal/llm"
	"github.com/mathpath/mathexam/internal/metrics"
	"github.com/mathpath/mathexam/internal/model"
	"github.com/mathpath/mathexam/internal/storage"
	"github.com/mathpath/mathexam/internal/store"
)

// minSecretLen is the shortest accepted JWT secret outside --dev.
const minSecretLen = 32

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mathexam",
		Short: "Math exam platform API with LLM paper extraction and grading",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), createAdminCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `mathexam --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addDBFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", store.DriverSQLite, "Database driver (sqlite, postgres)")
	f.String("db", "mathexam.db", "SQLite path or Postgres DSN")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write JSON logs to this rotating file")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	addDBFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("jwt-secret", "", "HMAC secret for bearer tokens (at least 32 characters)")
	f.Duration("token-ttl", auth.DefaultTTL, "Bearer token lifetime")
	f.Bool("dev", false, "Development mode: allow a short or generated JWT secret")
	f.String("llm-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the LLM")
	f.String("llm-model", "gpt-4o-mini", "LLM model name")
	f.Duration("llm-timeout", llm.DefaultTimeout, "Timeout for a single LLM call")
	f.Int("exam-cost", exam.DefaultCost, "Points debited when an exam attempt starts (negative = free)")
	f.Int("initial-points", 100, "Points granted at registration")
	f.String("admin-email", "", "Email of the admin account to seed on startup")
	f.String("admin-password", "", "Password for the seeded admin (or set MATHEXAM_ADMIN_PASSWORD)")
	f.StringP("lang", "l", "zh", "Default message language (zh, en)")
	f.String("storage", storage.KindLocal, "Paper storage (local, minio)")
	f.String("storage-path", "uploads", "Directory for local paper storage")
	f.String("minio-endpoint", "", "MinIO/S3 endpoint host:port")
	f.String("minio-access-key", "", "MinIO access key")
	f.String("minio-secret-key", "", "MinIO secret key")
	f.String("minio-bucket", "mathexam", "MinIO bucket for papers")
	f.Bool("minio-secure", true, "Use TLS for MinIO")
	f.Int("rate-limit", 30, "Requests per minute per client IP on AI routes")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /api)")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (* for any)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam attempts as JSON",
		RunE:  runExport,
	}
	addDBFlags(cmd)
	f := cmd.Flags()
	f.String("exam-id", "", "Only export attempts on this exam")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func createAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account or promote an existing user",
		RunE:  runCreateAdmin,
	}
	addDBFlags(cmd)
	f := cmd.Flags()
	f.String("email", "", "Admin email (required)")
	f.String("password", "", "Password for a new account")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// viperForCmd binds a command's flags and environment to a fresh viper
// instance. An optional .env file is loaded into the environment first.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("error reading .env file", "error", err)
	}

	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("MATHEXAM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("mathexam")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/mathexam")
	v.AddConfigPath("/etc/mathexam")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(v *viper.Viper) (*store.Store, error) {
	db, err := store.New(v.GetString("db-driver"), v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func jwtSecret(v *viper.Viper) (string, error) {
	secret := v.GetString("jwt-secret")
	if len(secret) >= minSecretLen {
		return secret, nil
	}
	if !v.GetBool("dev") {
		return "", fmt.Errorf("jwt-secret must be at least %d characters (set MATHEXAM_JWT_SECRET)", minSecretLen)
	}
	if secret != "" {
		slog.Warn("using a short JWT secret in dev mode")
		return secret, nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	slog.Warn("no JWT secret set, generated one; tokens will not survive a restart")
	return hex.EncodeToString(b), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	defer setupLogging(v)()

	secret, err := jwtSecret(v)
	if err != nil {
		return err
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := seedAdmin(cmd.Context(), db, v.GetString("admin-email"), v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if n, err := db.UserCount(cmd.Context()); err == nil && n == 0 {
		slog.Warn("no users yet; set --admin-email and --admin-password or run create-admin")
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	files, err := storage.New(ctx, storage.Config{
		Kind:           v.GetString("storage"),
		LocalPath:      v.GetString("storage-path"),
		MinioEndpoint:  v.GetString("minio-endpoint"),
		MinioAccessKey: v.GetString("minio-access-key"),
		MinioSecretKey: v.GetString("minio-secret-key"),
		MinioBucket:    v.GetString("minio-bucket"),
		MinioSecure:    v.GetBool("minio-secure"),
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	llmClient, err := llm.New(llm.Config{
		BaseURL: v.GetString("llm-url"),
		APIKey:  v.GetString("llm-key"),
		Model:   v.GetString("llm-model"),
		Timeout: v.GetDuration("llm-timeout"),
	})
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}

	exams := exam.NewService(exam.Config{
		Store:     db,
		Grader:    llmClient,
		Extractor: llmClient,
		Files:     files,
		Cost:      v.GetInt("exam-cost"),
	})

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	svcCfg := model.ServiceConfig{
		ExamCost:      exams.Cost(),
		InitialPoints: v.GetInt("initial-points"),
		BasePath:      basePath,
		RateLimit:     v.GetInt("rate-limit"),
		CORSOrigins:   v.GetStringSlice("cors-origins"),
	}

	h, err := handler.New(handler.Config{
		Store:   db,
		Exams:   exams,
		AI:      llmClient,
		Signer:  auth.NewSigner(secret, v.GetDuration("token-ttl")),
		Files:   files,
		Service: svcCfg,
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}
	defer h.Close()

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting server",
		"addr", addr,
		"db_driver", v.GetString("db-driver"),
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"exam_cost", svcCfg.ExamCost,
		"storage", v.GetString("storage"),
		"base_path", basePath,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	defer setupLogging(v)()

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := db.ExportRecords(cmd.Context(), v.GetString("exam-id"))
	if err != nil {
		return fmt.Errorf("export records: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("exported attempts", "count", len(export.Results))
	return nil
}

func runCreateAdmin(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	defer setupLogging(v)()

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	return seedAdmin(cmd.Context(), db, v.GetString("email"), v.GetString("password"))
}

// seedAdmin makes sure the account for email holds the admin role, creating
// it with password when it does not exist. An empty email is a no-op.
func seedAdmin(ctx context.Context, db *store.Store, email, password string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}

	u, err := db.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if u.Role == model.UserRoleAdmin {
			return nil
		}
		role := model.UserRoleAdmin
		if _, err := db.UpdateUser(ctx, u.ID, store.UserPatch{Role: &role}); err != nil {
			return fmt.Errorf("promote %s: %w", email, err)
		}
		slog.Info("promoted user to admin", "email", email)
		return nil
	case !errors.Is(err, apperr.ErrNotFound):
		return err
	}

	if len(password) < 6 {
		return fmt.Errorf("admin password of at least 6 characters is required to create %s: set --admin-password or MATHEXAM_ADMIN_PASSWORD", email)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	_, err = db.CreateUser(ctx, model.User{
		Email:        email,
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	slog.Info("seeded admin user", "email", email)
	return nil
}
