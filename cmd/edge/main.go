package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/deskos/edge/handlers"
	"github.com/deskos/edge/pkg/preview"
	"github.com/deskos/edge/pkg/proxy"
	"github.com/deskos/edge/pkg/ratelimit"
	"github.com/deskos/edge/pkg/ruleset"
)

func main() {
	parser := argparse.NewParser("edge", "Rate-limiting and embedding-proxy edge service")
	addr := parser.String("a", "addr", &argparse.Options{Help: "Listen address", Default: ":8080"})
	rulesetPath := parser.String("r", "ruleset", &argparse.Options{Help: "Path(s) to YAML ruleset files or directories, separated by ';'"})
	envFile := parser.String("e", "env", &argparse.Options{Help: "Path to an env file", Default: ".env"})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(2)
	}

	// missing env file is fine; env vars may come from the environment
	_ = godotenv.Load(*envFile)

	log := newLogger()

	rulesPath := *rulesetPath
	if rulesPath == "" {
		rulesPath = os.Getenv("RULESET")
	}
	rules, err := ruleset.Load(rulesPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load ruleset")
	}
	log.WithFields(logrus.Fields{
		"rules":   rules.Count(),
		"domains": len(rules.Domains()),
	}).Info("ruleset loaded")

	rdb := redis.NewClient(&redis.Options{
		Addr:     getenv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	defer rdb.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		// degraded start: the limiter fails open and snapshot lookups miss
		log.WithError(err).Warn("redis unreachable at startup")
	}
	cancelPing()

	store := ratelimit.NewRedisStore(rdb, ratelimit.WithPrefix(getenv("REDIS_PREFIX", "edge")))
	limiter := ratelimit.New(store,
		ratelimit.WithLogger(log),
		ratelimit.WithFailOpen(getenv("RL_FAIL_POLICY", "open") != "closed"),
	)

	client := &http.Client{}
	engineOpts := []proxy.Option{proxy.WithLogger(log)}
	if ua := os.Getenv("USER_AGENT"); ua != "" {
		engineOpts = append(engineOpts, proxy.WithUserAgent(ua))
	}
	engine := proxy.NewEngine(client, rules, engineOpts...)

	deps := handlers.Deps{
		Limiter: limiter,
		Engine:  engine,
		Cache:   proxy.NewSnapshotCache(rdb),
		Preview: preview.New(client),
		Rules:   rules,
		Pinger:  redisPinger{cli: rdb},
		Log:     log,
	}
	cfg := handlers.Config{
		AllowedOrigins: splitCSV(os.Getenv("ALLOWED_ORIGINS")),
		ExposeRuleset:  getenv("EXPOSE_RULESET", "true") != "false",
		Burst: ratelimit.Policy{
			Scope:         "burst",
			Limit:         getenvInt("BURST_LIMIT", 10),
			WindowSeconds: getenvInt("BURST_WINDOW_SECONDS", 60),
		},
		Daily: ratelimit.Policy{
			Scope:         "daily",
			Limit:         getenvInt("DAILY_LIMIT", 500),
			WindowSeconds: getenvInt("DAILY_WINDOW_SECONDS", 86400),
		},
	}

	app := handlers.NewApp(cfg, deps)

	go func() {
		log.WithField("addr", *addr).Info("server listening")
		if err := app.Listen(*addr); err != nil {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.WithError(err).Error("shutdown did not complete cleanly")
	}
	log.Info("server exited")
}

type redisPinger struct {
	cli *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.cli.Ping(ctx).Err()
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	if term.IsTerminal(int(os.Stdout.Fd())) {
		log.SetFormatter(&logrus.TextFormatter{ForceColors: true, FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(getenv("LOG_LEVEL", "info")); err == nil {
		log.SetLevel(level)
	}
	return log
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
