package main

import (
	"fmt"
	"os"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "init":
		os.Exit(runInit(os.Stdout))
	case "seed":
		os.Exit(runSeed(args, os.Stdout))
	case "keyword":
		os.Exit(runKeyword(args, os.Stdout))
	case "region":
		os.Exit(runRegion(args, os.Stdout))
	case "status":
		os.Exit(runStatus(os.Stdout))
	case "report":
		os.Exit(runReport(args, os.Stdout))
	case "test":
		os.Exit(runTest(args, os.Stdout))
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`marketwatch - classifieds monitor

Usage:
  marketwatch <command> [arguments]

Commands:
  serve                          Run the monitor and the operator API
  validate                       Validate configuration (no connections made)
  config                         Print effective configuration as JSON (secrets masked)
  version                        Print version information
  init                           Create the database schema
  seed FILE                      Create keywords and regions from a YAML file
  keyword add [-interval D] TERM Add a search term
  keyword list [-active]         List search terms
  keyword update -interval D TERM
                                 Change a term's polling interval
  keyword toggle TERM            Activate or deactivate a term
  region add [-name NAME] SLUG   Add a region
  region list [-active]          List regions
  region toggle SLUG             Activate or deactivate a region
  status                         Print monitor statistics and upcoming tasks
  report [-hours N]              Print statistics for the last N hours (default 24)
  test TERM REGION               Fetch once and print candidates (nothing is stored)

Environment Variables:
  DATABASE_DRIVER           "sqlite" or "postgres" (default: "sqlite")
  DATABASE_URL              PostgreSQL connection string (required for postgres)
  DATABASE_PATH             SQLite file (default: "data/marketwatch.db")
  REDIS_ADDR                Redis address for analytics and the redis sink (optional)
  HTTP_ADDR                 Operator API address (default: ":8080")

  DB_OP_TIMEOUT             Bookkeeping write timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")
  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  DEFAULT_INTERVAL          Interval for new keywords; base cycle sleep (default: "120s")
  SLEEP_FLOOR               Minimum sleep between cycles (default: "30s")
  COURTESY_DELAY            Pause between fetches of one term (default: "2s")
  GROUP_DELAY               Pause before a worker moves to the next term (default: "5s")
  FETCH_TIMEOUT             Per-task fetch bound (default: "60s")
  FETCH_LIMIT               Max candidates per fetch (default: "50")
  DISPATCHER_WORKERS        Concurrent fetch sessions (default: "1")
  SHUTDOWN_GRACE            In-flight fetch grace on shutdown (default: "30s")
  HOUSEKEEPING_EVERY        Cycles between housekeeping passes (default: "10")
  STATS_RETENTION           Statistics retention (default: "720h")
  MAX_STORAGE_FAILURES      Consecutive failed cycles before exit (default: "5")
  NOTIFY_BATCH_SIZE         Unnotified listings per pass (default: "500")

  FETCH_MODE                "http", "browser", "feed" or "static" (default: "http")
  FETCH_URL_TEMPLATE        Search URL with {region} and {term}
  FETCH_ITEM_SELECTOR       CSS selector for listing anchors
  FETCH_ID_PATTERN          Regexp; first group is the listing id
  FETCH_USER_AGENT          User-Agent header
  FETCH_RETRIES             HTTP attempts per fetch (default: "3")
  FETCH_STATIC_FILE         YAML fixture for FETCH_MODE=static
  BROWSER_REMOTE_URL        DevTools URL of a running Chrome (optional)
  BROWSER_HEADLESS          Run Chrome headless (default: "true")

  NOTIFY_SINKS              Comma list of console, file, webhook, redis (default: "console,file")
  NOTIFY_FILE_PATH          File sink path (default: "data/notifications.json")
  NOTIFY_FILE_FORMAT        "json" or "text" (default: "json")
  NOTIFY_CONSOLE_DETAILED   Multi-line console output (default: "false")
  NOTIFY_WEBHOOK_URL        Webhook sink target
  NOTIFY_WEBHOOK_SECRET     HMAC-SHA256 signing secret (optional)
  NOTIFY_WEBHOOK_TIMEOUT    Per-request timeout (default: "10s")
  NOTIFY_REDIS_CHANNEL      Redis sink channel (default: "marketwatch:listings")
  CIRCUIT_BREAKER_THRESHOLD Webhook failures before opening; 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Open circuit cooldown (default: "2m")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  LEADER_ELECTION           Postgres advisory lock election (default: "false")
  LEADER_LOCK_KEY           Advisory lock key (default: "728380")
  LEADER_RETRY_INTERVAL     Follower retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping interval (default: "2s")`)
}
