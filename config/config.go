package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"8000"`

	// Origin des lokalen Frontends (Vite-Dev-Server) für CORS.
	UIOrigin string `envconfig:"UI_ORIGIN" default:"http://localhost:5173"`

	// Reaper: hängengebliebene "processing"-Papers zurück in die Queue legen.
	ReaperSchedule    string `envconfig:"REAPER_SCHEDULE" default:"@every 5m"`
	StaleAfterMinutes int    `envconfig:"STALE_AFTER_MINUTES" default:"30"`

	// S3-Ablage für PDF-Dateien. Ohne URL bleibt der Upload deaktiviert.
	PDFS3Key    string `envconfig:"PDF_S3_KEY"`
	PDFS3Secret string `envconfig:"PDF_S3_SECRET"`
	PDFS3URL    string `envconfig:"PDF_S3_URL"`
	PDFS3Region string `envconfig:"PDF_S3_REGION" default:"eu-central-1"`
	PDFS3Bucket string `envconfig:"PDF_S3_BUCKET" default:"papereader-pdfs"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// PDFStorageEnabled meldet, ob eine S3-Ablage konfiguriert ist.
func (c *Config) PDFStorageEnabled() bool {
	return c.PDFS3URL != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
