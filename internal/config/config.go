package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "IDSCAN"

// Config holds the runtime settings of the scanner service.
type Config struct {
	HTTPAddr       string
	GRPCHealthAddr string
	DatabaseDSN    string
	RedisAddr      string

	JWTSecret   string
	JWTAudience string

	TessdataPrefix string
	Languages      []string
	WorkDir        string

	CropFraction   float64
	NameLineWindow int
	NameMinLength  int

	ScanTimeout     time.Duration
	ShutdownTimeout time.Duration
	ResultTTL       time.Duration

	LogLevel string
	LogFile  string
}

// Load reads an optional .env file, then flags and IDSCAN_* environment variables.
// Variables already present in the environment win over the .env file.
func Load(name string, args []string) (*Config, error) {
	envFile := os.Getenv(EnvPrefix + "_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	flags := ff.NewFlagSet(name)
	var (
		httpAddr       = flags.StringLong("http-addr", ":8080", "HTTP listen address")
		grpcHealthAddr = flags.StringLong("grpc-health-addr", ":9090", "gRPC health service listen address")
		databaseDSN    = flags.StringLong("database-dsn", "host=postgres user=postgres password=postgres dbname=idscan port=5432 sslmode=disable", "Postgres DSN for the scan log")
		redisAddr      = flags.StringLong("redis-addr", "redis:6379", "Redis address for the result cache")
		jwtSecret      = flags.StringLong("jwt-secret", "", "HS256 secret for bearer tokens")
		jwtAudience    = flags.StringLong("jwt-audience", "", "required token audience (optional)")
		tessdataPrefix = flags.StringLong("tessdata-prefix", "", "directory holding tessdata language files")
		languages      = flags.StringLong("languages", "sin,eng,tam", "comma separated OCR languages")
		workDir        = flags.StringLong("work-dir", os.TempDir(), "directory for preprocessed variants")
		cropFraction   = flags.Float64Long("crop-fraction", 0.2, "bottom strip fraction for the ID number fallback")
		nameWindow     = flags.IntLong("name-line-window", 5, "leading lines searched by the name heuristic")
		nameMinLength  = flags.IntLong("name-min-length", 6, "minimum characters of a name line")
		scanTimeout    = flags.DurationLong("scan-timeout", 60*time.Second, "upper bound for one extraction")
		shutdownTmo    = flags.DurationLong("shutdown-timeout", 15*time.Second, "graceful shutdown timeout")
		resultTTL      = flags.DurationLong("result-ttl", 5*time.Minute, "how long results stay cached")
		logLevel       = flags.StringLong("log-level", "info", "log level")
		logFile        = flags.StringLong("log-file", "", "rotated log file (optional)")
	)

	if err := ff.Parse(flags, args, ff.WithEnvVarPrefix(EnvPrefix)); err != nil {
		return nil, fmt.Errorf("%s\n%w", ffhelp.Flags(flags), err)
	}

	cfg := &Config{
		HTTPAddr:        *httpAddr,
		GRPCHealthAddr:  *grpcHealthAddr,
		DatabaseDSN:     *databaseDSN,
		RedisAddr:       *redisAddr,
		JWTSecret:       *jwtSecret,
		JWTAudience:     *jwtAudience,
		TessdataPrefix:  *tessdataPrefix,
		Languages:       splitList(*languages),
		WorkDir:         *workDir,
		CropFraction:    *cropFraction,
		NameLineWindow:  *nameWindow,
		NameMinLength:   *nameMinLength,
		ScanTimeout:     *scanTimeout,
		ShutdownTimeout: *shutdownTmo,
		ResultTTL:       *resultTTL,
		LogLevel:        *logLevel,
		LogFile:         *logFile,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.CropFraction <= 0 || c.CropFraction > 1 {
		errs = append(errs, fmt.Errorf("crop-fraction must be in (0,1], got %v", c.CropFraction))
	}
	if c.NameLineWindow <= 0 {
		errs = append(errs, fmt.Errorf("name-line-window must be positive, got %d", c.NameLineWindow))
	}
	if c.NameMinLength <= 0 {
		errs = append(errs, fmt.Errorf("name-min-length must be positive, got %d", c.NameMinLength))
	}
	if len(c.Languages) == 0 {
		errs = append(errs, errors.New("languages must name at least one language"))
	}
	if c.WorkDir == "" {
		errs = append(errs, errors.New("work-dir is required"))
	}
	return errors.Join(errs...)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
