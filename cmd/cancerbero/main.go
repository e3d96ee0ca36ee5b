package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dropDatabas3/cancerbero/internal/app"
	"github.com/dropDatabas3/cancerbero/internal/claims"
	"github.com/dropDatabas3/cancerbero/internal/config"
	"github.com/dropDatabas3/cancerbero/internal/observability/logger"
	"github.com/dropDatabas3/cancerbero/internal/security/password"
	"github.com/dropDatabas3/cancerbero/internal/store"
	"github.com/dropDatabas3/cancerbero/internal/store/core"
	migrations "github.com/dropDatabas3/cancerbero/migrations/postgres"
)

func main() {
	var (
		envFile    string
		configPath string
	)

	root := &cobra.Command{
		Use:           "cancerbero",
		Short:         "Proveedor de identidad por niveles (tiers + OIDC + WebAuthn)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "ruta a .env (se ignora si no existe)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "ruta a config.yaml (vacío: defaults + env)")

	loadConfig := func() (*config.Config, error) {
		if envFile != "" {
			_ = godotenv.Load(envFile)
		}
		if configPath != "" {
			return config.Load(configPath)
		}
		// Sin YAML: defaults + overrides de entorno, misma validación.
		return config.FromEnv()
	}

	root.AddCommand(serveCmd(loadConfig))
	root.AddCommand(migrateCmd(loadConfig))
	root.AddCommand(seedCmd(loadConfig))
	root.AddCommand(keysCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP y las tareas periódicas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Logging); err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(ctx)
		},
	}
}

func migrateCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones embebidas sobre postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("migrate requiere storage.driver=postgres (actual: %s)", cfg.Storage.Driver)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
			if err != nil {
				return fmt.Errorf("pgxpool: %w", err)
			}
			defer pool.Close()

			names, err := fs.Glob(migrations.FS, "*.sql")
			if err != nil {
				return err
			}
			sort.Strings(names) // el prefijo numérico fija el orden
			for _, name := range names {
				sql, err := fs.ReadFile(migrations.FS, name)
				if err != nil {
					return err
				}
				if _, err := pool.Exec(ctx, string(sql)); err != nil {
					return fmt.Errorf("migración %s: %w", name, err)
				}
				fmt.Println("aplicada:", name)
			}
			return nil
		},
	}
}

func seedCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		clientID     = "demo-app"
		redirectURI  = "http://localhost:3000/callback"
		username     = "demo@example.com"
		userPassword = ""
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Crea un cliente OAuth y un sujeto de demostración",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Logging); err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer logger.Sync()
			log := logger.Named("seed")

			if userPassword == "" {
				userPassword, err = randomSecret(12)
				if err != nil {
					return err
				}
				fmt.Println("password generada:", userPassword)
			}

			ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
			defer cancel()

			st, err := store.Open(ctx, store.Config{
				Driver: cfg.Storage.Driver,
				DSN:    cfg.Storage.DSN,
			})
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Clients().Create(ctx, core.Client{
				ID:           clientID,
				Name:         "Demo",
				RedirectURIs: []string{redirectURI},
				Scopes:       []string{"openid", "profile", "email", "offline_access"},
				Active:       true,
				CreatedAt:    time.Now().UTC(),
			}); err != nil {
				return fmt.Errorf("crear cliente: %w", err)
			}

			phc, err := password.Hash(password.Default, userPassword)
			if err != nil {
				return err
			}
			if err := st.Subjects().Create(ctx, core.Subject{
				ID:          uuid.NewString(),
				Username:    username,
				PasswordPHC: phc,
				Namespace:   claims.SystemNamespace(cfg.Token.Issuer),
				Permissions: claims.DefaultPermissions(2),
				Active:      true,
				CreatedAt:   time.Now().UTC(),
			}); err != nil {
				return fmt.Errorf("crear sujeto: %w", err)
			}

			log.Info("seed completado",
				zap.String("client_id", clientID),
				logger.Subject(username),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", clientID, "ID del cliente OAuth a crear")
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", redirectURI, "redirect URI registrada")
	cmd.Flags().StringVar(&username, "username", username, "username del sujeto demo")
	cmd.Flags().StringVar(&userPassword, "password", userPassword, "password del sujeto (vacío: se genera)")
	return cmd
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Utilidades de material de firma",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Genera un kid y un secreto HMAC de 32 bytes para token.keys",
		RunE: func(c *cobra.Command, args []string) error {
			var raw [32]byte
			if _, err := rand.Read(raw[:]); err != nil {
				return err
			}
			kid := "hs256-" + time.Now().UTC().Format("2006-01-02")
			fmt.Printf("kid:    %s\n", kid)
			fmt.Printf("secret: %s\n", base64.RawURLEncoding.EncodeToString(raw[:]))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "secretbox",
		Short: "Genera una clave maestra para security.secretbox_master_key",
		RunE: func(c *cobra.Command, args []string) error {
			var raw [32]byte
			if _, err := rand.Read(raw[:]); err != nil {
				return err
			}
			fmt.Println(base64.RawURLEncoding.EncodeToString(raw[:]))
			return nil
		},
	})
	return cmd
}

func randomSecret(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
