package config // package config loads application configuration from environment variables

import (
    "fmt"     // fmt builds the aggregated missing-variable error
    "os"      // os provides access to environment variables
    "sort"    // sort keeps error output stable
    "strconv" // strconv converts strings to other types
    "strings" // strings normalises driver names
    "time"    // time resolves the lab time zone

    "github.com/joho/godotenv" // godotenv loads a local .env file when present
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, ints for durations and costs.
type Config struct {
    Env          string         // application environment (e.g. "dev", "prod")
    Port         string         // HTTP port to listen on
    DBDriver     string         // "mysql" or "sqlite3"
    DBUser       string         // database username
    DBPass       string         // database password (optional)
    DBHost       string         // database host address
    DBPort       string         // database port number
    DBName       string         // database name
    DBPath       string         // sqlite database file (sqlite3 driver only)
    JWTSecret    string         // secret used to sign admin session tokens
    AccessTTLMin int            // admin token time-to-live in minutes
    BcryptCost   int            // bcrypt cost for admin password hashing
    PINCost      int            // bcrypt cost for reservation PIN hashing
    AgentAPIKey  string         // pre-shared key for device agents (empty disables the check)
    DevicesFile  string         // optional YAML device catalog
    Location     *time.Location // lab time zone used for statistics buckets
    LogLevel     string         // logrus level name
    LogFormat    string         // "json" or "text"
}

// Load reads configuration values from the environment and returns a
// Config.  A .env file in the working directory is loaded first when it
// exists; real environment variables win over it.  Every missing required
// variable is reported in a single error.
func Load() (Config, error) {
    _ = godotenv.Load() // absent .env is the normal case in containers

    r := &reader{}
    cfg := Config{
        Env:          getenv("APP_ENV", "dev"),
        Port:         getenv("APP_PORT", "8080"),
        DBDriver:     strings.ToLower(getenv("DB_DRIVER", "mysql")),
        DBPass:       os.Getenv("DB_PASS"),
        DBPath:       getenv("DB_PATH", "data/lab.db"),
        JWTSecret:    r.must("JWT_SECRET"),
        AccessTTLMin: r.intOr("ACCESS_TOKEN_TTL_MIN", 60),
        BcryptCost:   r.intOr("BCRYPT_COST", 12),
        PINCost:      r.intOr("PIN_BCRYPT_COST", 10),
        AgentAPIKey:  os.Getenv("AGENT_API_KEY"),
        DevicesFile:  os.Getenv("DEVICES_FILE"),
        LogLevel:     getenv("LOG_LEVEL", "info"),
        LogFormat:    getenv("LOG_FORMAT", "json"),
    }

    switch cfg.DBDriver {
    case "mysql":
        cfg.DBUser = r.must("DB_USER")
        cfg.DBHost = r.must("DB_HOST")
        cfg.DBPort = r.must("DB_PORT")
        cfg.DBName = r.must("DB_NAME")
    case "sqlite", "sqlite3":
        cfg.DBDriver = "sqlite3"
    default:
        r.fail("DB_DRIVER", fmt.Sprintf("unsupported driver %q", cfg.DBDriver))
    }

    loc, err := time.LoadLocation(getenv("LAB_TIMEZONE", "UTC"))
    if err != nil {
        r.fail("LAB_TIMEZONE", err.Error())
        loc = time.UTC
    }
    cfg.Location = loc

    if err := r.err(); err != nil {
        return Config{}, err
    }
    return cfg, nil
}

// reader collects problems so that one startup attempt reports all of them.
type reader struct {
    problems map[string]string
}

func (r *reader) fail(key, reason string) {
    if r.problems == nil {
        r.problems = map[string]string{}
    }
    r.problems[key] = reason
}

// must retrieves the value of a required environment variable.
func (r *reader) must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        r.fail(key, "missing required env var")
    }
    return v
}

// intOr converts an optional variable, recording a problem on garbage input.
func (r *reader) intOr(key string, def int) int {
    s := os.Getenv(key)
    if s == "" {
        return def
    }
    n, err := strconv.Atoi(s)
    if err != nil {
        r.fail(key, fmt.Sprintf("invalid int %q", s))
        return def
    }
    return n
}

func (r *reader) err() error {
    if len(r.problems) == 0 {
        return nil
    }
    keys := make([]string, 0, len(r.problems))
    for k := range r.problems {
        keys = append(keys, k)
    }
    sort.Strings(keys)
    parts := make([]string, 0, len(keys))
    for _, k := range keys {
        parts = append(parts, k+": "+r.problems[k])
    }
    return fmt.Errorf("config: %s", strings.Join(parts, "; "))
}
