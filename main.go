package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/template/html/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"xrechnung-saas/config"
	"xrechnung-saas/database"
	"xrechnung-saas/routes"
	"xrechnung-saas/services/invoice"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("pas de .env trouvé")
	}

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalide")
	}

	setupLogger(cfg)

	if cfg.JWTSecret == "" || cfg.JWTSecret == "changeme-super-secret" {
		log.Warn().Msg("API_JWT_SECRET n'est pas configuré ou utilise la valeur par défaut. Ne pas utiliser en production.")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("échec connexion base de données")
	}

	engine := html.New("./views", ".html")
	app := fiber.New(fiber.Config{
		Views: engine,
	})

	// CORS + identifiant de requête
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "xrechnung-api",
			"env":     cfg.Env,
		})
	})

	svc := invoice.NewService(db, cfg.Invoicing)
	routes.SetupAuthRoutes(app, routes.NewAuthHandler(db, cfg.JWTSecret))
	routes.SetupInvoiceRoutes(app, routes.NewInvoiceHandler(svc, cfg))

	// Fichiers statiques (css de la partie web)
	app.Static("/static", "./public")

	// Démarrage gracieux
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("🚀 Serveur XRechnung en écoute")
		if err := app.Listen(cfg.HTTPAddr()); err != nil {
			log.Error().Err(err).Msg("serveur arrêté")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Arrêt du serveur XRechnung...")

	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Error().Err(err).Msg("arrêt forcé")
	}
}

func setupLogger(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}
}
