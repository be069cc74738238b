package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docopt/docopt-go"
)

const Version = "0.1.0"

const Usage = `Docworld collaborative document server.

Every option falls back to its environment variable, then to the default.

Usage:
    docworld [--addr=<addr>] [--store=<kind>] [--dsn=<dsn>]
        [--autosave=<interval>]
        [--creation_secret=<secret>] [--creation_ttl=<ttl>]
        [--allow_client_create]
        [--origins=<origins>]
        [--rate=<rate>] [--burst=<burst>]
        [--verbosity=<level>]
    docworld -h | --help
    docworld --version

Options:
    -h --help                   Show this screen.
    --version                   Show version.
    --addr=<addr>               Listen address. DOCWORLD_ADDR or PORT. Default :3001.
    --store=<kind>              sqlite, postgres or redis. DOCWORLD_STORE. Default sqlite.
    --dsn=<dsn>                 Store path or URL. DOCWORLD_DSN. Default ./data/docworld.db.
    --autosave=<interval>       Autosave interval. DOCWORLD_AUTOSAVE_INTERVAL. Default 5s.
    --creation_secret=<secret>  Room creation token key. DOCWORLD_CREATION_SECRET. Default random.
    --creation_ttl=<ttl>        Room creation token lifetime. DOCWORLD_CREATION_TTL. Default 24h.
    --allow_client_create       Trust the client isCreated flag. DOCWORLD_ALLOW_CLIENT_CREATE.
    --origins=<origins>         Comma separated allowed origins. DOCWORLD_ORIGINS. Default all.
    --rate=<rate>               Messages per second per connection. DOCWORLD_RATE. Default 100.
    --burst=<burst>             Message burst per connection. DOCWORLD_BURST. Default 200.
    --verbosity=<level>         glog verbosity. DOCWORLD_VERBOSITY. Default 0.`

type Config struct {
	Addr              string
	Store             string
	DSN               string
	AutosaveInterval  time.Duration
	CreationSecret    string
	CreationTTL       time.Duration
	AllowClientCreate bool
	// Empty allows every origin
	Origins   []string
	Rate      float64
	Burst     int
	Verbosity int
}

// Parse reads the command line and then the environment.
func Parse(argv []string, getenv func(string) string) (Config, error) {
	if argv == nil {
		// docopt reads os.Args when given nil
		argv = []string{}
	}
	opts, err := docopt.ParseArgs(Usage, argv, Version)
	if err != nil {
		return Config{}, err
	}
	return Load(opts, getenv)
}

// Load resolves every setting from opts, then getenv, then the default.
func Load(opts docopt.Opts, getenv func(string) string) (Config, error) {
	l := loader{opts: opts, getenv: getenv}

	config := Config{
		Addr:              l.str("--addr", ":3001", "DOCWORLD_ADDR"),
		Store:             l.str("--store", "sqlite", "DOCWORLD_STORE"),
		DSN:               l.str("--dsn", "./data/docworld.db", "DOCWORLD_DSN"),
		CreationSecret:    l.str("--creation_secret", "", "DOCWORLD_CREATION_SECRET"),
		AllowClientCreate: l.flag("--allow_client_create", "DOCWORLD_ALLOW_CLIENT_CREATE"),
		AutosaveInterval:  l.duration("--autosave", 5*time.Second, "DOCWORLD_AUTOSAVE_INTERVAL"),
		CreationTTL:       l.duration("--creation_ttl", 24*time.Hour, "DOCWORLD_CREATION_TTL"),
		Rate:              l.float("--rate", 100, "DOCWORLD_RATE"),
		Burst:             l.integer("--burst", 200, "DOCWORLD_BURST"),
		Verbosity:         l.integer("--verbosity", 0, "DOCWORLD_VERBOSITY"),
	}

	// PORT alone is honored as a bare port number
	if _, set := l.lookup("--addr", "DOCWORLD_ADDR"); !set {
		if port := getenv("PORT"); port != "" {
			config.Addr = ":" + port
		}
	}

	if origins := l.str("--origins", "", "DOCWORLD_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				config.Origins = append(config.Origins, o)
			}
		}
	}

	if l.err != nil {
		return Config{}, l.err
	}
	if config.AutosaveInterval <= 0 {
		return Config{}, fmt.Errorf("--autosave must be positive, got %s", config.AutosaveInterval)
	}
	return config, nil
}

type loader struct {
	opts   docopt.Opts
	getenv func(string) string
	err    error
}

func (l *loader) lookup(option, env string) (string, bool) {
	if v, ok := l.opts[option].(string); ok && v != "" {
		return v, true
	}
	if v := l.getenv(env); v != "" {
		return v, true
	}
	return "", false
}

func (l *loader) str(option, def, env string) string {
	if v, ok := l.lookup(option, env); ok {
		return v
	}
	return def
}

func (l *loader) flag(option, env string) bool {
	if v, ok := l.opts[option].(bool); ok && v {
		return true
	}
	v, err := strconv.ParseBool(l.getenv(env))
	return err == nil && v
}

func (l *loader) duration(option string, def time.Duration, env string) time.Duration {
	v, ok := l.lookup(option, env)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(option, v, err)
		return def
	}
	return d
}

func (l *loader) float(option string, def float64, env string) float64 {
	v, ok := l.lookup(option, env)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.fail(option, v, err)
		return def
	}
	return f
}

func (l *loader) integer(option string, def int, env string) int {
	v, ok := l.lookup(option, env)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(option, v, err)
		return def
	}
	return n
}

func (l *loader) fail(option, value string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("invalid %s %q: %w", option, value, err)
	}
}
