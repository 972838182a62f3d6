// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"instockbackend/internal/logger"
)

const (
	defaultHost            = "127.0.0.1"
	defaultPort            = "5051"
	defaultMetric          = "haversine"
	defaultExactLimit      = 12
	defaultRetentionDays   = 30
	defaultRadiusKm        = 5.0
	defaultAnchorLatitude  = 49.262130
	defaultAnchorLongitude = -123.250578
)

// Variables available everywhere
var (
	serverAddr       string
	databasePath     string
	seedFile         string
	exportFile       string
	distanceMetric   string
	exactLimit       int
	retentionDays    int
	defaultRadius    float64
	anchorLatitude   float64
	anchorLongitude  float64
	AllowedOrigin    string // For CORS
	logsDirectory    string
	logFileFormat    string
	logLevel         string
	timeZone         string
	environment      string
	flagsInitialized bool
)

//
// --- Utility Helpers ---
//

// Helper: get a setting based on ENVIRONMENT (dev or prod)
func GetEnvBasedSetting(base string) string {
	return os.Getenv(fmt.Sprintf("%s_%s", base, strings.ToUpper(Environment())))
}

// Environment returns "dev" unless ENVIRONMENT says otherwise.
func Environment() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	return env
}

// Helper: log which environment is running
func LogCurrentEnvironment() {
	if environment == "dev" {
		logger.LogInfo("Running in development environment")
	} else {
		logger.LogInfo("Running in %s environment", environment)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %d", key, raw, fallback)
		return fallback
	}
	return v
}

func envFloatOr(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %g", key, raw, fallback)
		return fallback
	}
	return v
}

//
// --- Loaders ---
//

// LoadEnv reads the .env file, then fills every setting from the environment.
// Runs before the logger exists, so it reports through the standard log package.
func LoadEnv() {
	wd, err := os.Getwd()
	if err != nil {
		log.Printf("Could not determine working directory: %v", err)
	}

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("No .env file found in %s. Using system environment variables.", wd)
	} else {
		log.Printf("Loaded environment variables from .env file in %s", wd)
	}

	environment = Environment()
	serverAddr = envOr("SERVER_HOST", defaultHost) + ":" + envOr("SERVER_PORT", defaultPort)

	databasePath = GetEnvBasedSetting("DATABASE_PATH")
	if databasePath == "" {
		databasePath = filepath.Join(wd, "instock.db")
	}

	seedFile = os.Getenv("SEED_FILE")
	distanceMetric = envOr("DISTANCE_METRIC", defaultMetric)
	exactLimit = envIntOr("ROUTE_EXACT_LIMIT", defaultExactLimit)
	retentionDays = envIntOr("SUBSCRIPTION_RETENTION_DAYS", defaultRetentionDays)
	defaultRadius = envFloatOr("DEFAULT_RADIUS_KM", defaultRadiusKm)
	anchorLatitude = envFloatOr("DEFAULT_LATITUDE", defaultAnchorLatitude)
	anchorLongitude = envFloatOr("DEFAULT_LONGITUDE", defaultAnchorLongitude)

	AllowedOrigin = GetEnvBasedSetting("ALLOWED_ORIGIN")

	logsDirectory = GetEnvBasedSetting("LOGS_DIRECTORY")
	if logsDirectory == "" {
		logsDirectory = "./logs"
	}
	logFileFormat = GetEnvBasedSetting("LOG_FILE_FORMAT")
	if logFileFormat == "" {
		logFileFormat = "server_%s.log"
	}
	logLevel = envOr("LOG_LEVEL", "info")
	timeZone = envOr("TIME_ZONE", "Local")
}

// ParseFlags applies command-line overrides on top of the environment.
func ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("instockbackend", pflag.ContinueOnError)
	fs.StringVar(&serverAddr, "addr", serverAddr, "listen address (host:port)")
	fs.StringVar(&databasePath, "db", databasePath, "path to the SQLite database")
	fs.StringVar(&seedFile, "seed", seedFile, "seed the catalog from a JSON/HuJSON file when the database is empty")
	fs.StringVar(&exportFile, "export", "", "write the current catalog to this file and exit")
	fs.StringVar(&distanceMetric, "metric", distanceMetric, "distance metric: haversine or planar")
	fs.IntVar(&exactLimit, "exact-limit", exactLimit, "largest store count solved exactly by the route orderer")
	fs.StringVar(&logLevel, "log-level", logLevel, "minimum log level")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	flagsInitialized = true
	return nil
}

// LoggerConfig returns a logger.Config struct populated from environment
func LoggerConfig() logger.Config {
	return logger.Config{
		LogsDirectory: logsDirectory,
		LogFileFormat: logFileFormat,
		TimeZone:      timeZone,
		Level:         logLevel,
	}
}

// LoadCORSConfig loads CORS settings
func LoadCORSConfig() {
	if AllowedOrigin == "" {
		AllowedOrigin = "*"
		logger.LogWarn("ALLOWED_ORIGIN not set, using '*' (allow all origins)")
	} else {
		logger.LogInfo("Allowed Origin: %s", AllowedOrigin)
	}
}

//
// --- Getters (exported) ---
//

func ServerAddress() string {
	return serverAddr
}

func DatabasePath() string {
	return databasePath
}

func SeedFile() string {
	return seedFile
}

func ExportFile() string {
	return exportFile
}

func DistanceMetric() string {
	return distanceMetric
}

func ExactLimit() int {
	return exactLimit
}

func SubscriptionRetentionDays() int {
	return retentionDays
}

func DefaultRadiusKm() float64 {
	return defaultRadius
}

// DefaultAnchor is used when a radius is requested without a location.
func DefaultAnchor() (lat, lng float64) {
	return anchorLatitude, anchorLongitude
}

func FlagsParsed() bool {
	return flagsInitialized
}
