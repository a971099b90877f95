package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	log15adapter "github.com/jackc/pgx-log15"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/urfave/cli"
	"github.com/vaughan0/go-ini"
	log "gopkg.in/inconshreveable/log15.v2"

	"skim/data"
	"skim/ingest"
	"skim/stream"
)

const version = "0.3.0"

func main() {
	app := cli.NewApp()
	app.Name = "skim"
	app.Usage = "feed triage backend"
	app.Version = version

	configFlag := cli.StringFlag{Name: "config, c", Value: "skim.conf", Usage: "path to config file"}

	app.Commands = []cli.Command{
		{
			Name:      "server",
			ShortName: "s",
			Usage:     "run the server",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "address, a", Value: "127.0.0.1", Usage: "address to listen on"},
				cli.StringFlag{Name: "port, p", Value: "8080", Usage: "port to listen on"},
				configFlag,
			},
			Action: Serve,
		},
		{
			Name:   "update",
			Usage:  "run one fetch-and-distribute pass and exit",
			Flags:  []cli.Flag{configFlag},
			Action: Update,
		},
		{
			Name:      "refresh",
			Usage:     "fetch one subscriber's feeds and exit",
			ArgsUsage: "subscriber-id",
			Flags:     []cli.Flag{configFlag},
			Action:    Refresh,
		},
		{
			Name:   "prune",
			Usage:  "remove stale undecided queue entries and exit",
			Flags:  []cli.Flag{configFlag},
			Action: Prune,
		},
		{
			Name:      "add-subscription",
			Usage:     "register a feed for a subscriber",
			ArgsUsage: "subscriber-id feed-url",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "name, n", Usage: "display name for the feed"},
				cli.StringFlag{Name: "category", Usage: "category stamped on items from this feed"},
				configFlag,
			},
			Action: AddSubscription,
		},
		{
			Name:      "add-subscriber",
			Usage:     "create a subscriber and print their token",
			ArgsUsage: "name",
			Flags:     []cli.Flag{configFlag},
			Action:    AddSubscriber,
		},
		{
			Name:      "regenerate-token",
			Usage:     "replace a subscriber's token, invalidating the old one",
			ArgsUsage: "subscriber-id",
			Flags:     []cli.Flag{configFlag},
			Action:    RegenerateToken,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (ini.File, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %v", err)
	}

	file, err := ini.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %v", err)
	}

	return file, nil
}

func newLogger(conf ini.File) (log.Logger, error) {
	level, _ := conf.Get("log", "level")
	if level == "" {
		level = "warn"
	}

	logger := log.New()
	if err := setFilterHandler(level, logger, log.StdoutHandler); err != nil {
		return nil, err
	}

	return logger, nil
}

func setFilterHandler(level string, logger log.Logger, handler log.Handler) error {
	if level == "none" {
		logger.SetHandler(log.DiscardHandler())
		return nil
	}

	lvl, err := log.LvlFromString(level)
	if err != nil {
		return fmt.Errorf("bad log level: %v", err)
	}
	logger.SetHandler(log.LvlFilterHandler(lvl, handler))

	return nil
}

func newPool(ctx context.Context, conf ini.File, logger log.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, err
	}

	config.ConnConfig.Host, _ = conf.Get("database", "host")
	if config.ConnConfig.Host == "" {
		return nil, errors.New("config must contain database.host but it does not")
	}

	if p, ok := conf.Get("database", "port"); ok {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return nil, err
		}
		config.ConnConfig.Port = uint16(n)
	}

	var ok bool
	if config.ConnConfig.Database, ok = conf.Get("database", "database"); !ok {
		return nil, errors.New("config must contain database.database but it does not")
	}
	config.ConnConfig.User, _ = conf.Get("database", "user")
	config.ConnConfig.Password, _ = conf.Get("database", "password")

	logLevel := tracelog.LogLevelWarn
	if level, ok := conf.Get("log", "pgx_level"); ok {
		logLevel, err = tracelog.LogLevelFromString(level)
		if err != nil {
			return nil, fmt.Errorf("bad pgx log level: %v", err)
		}
	}
	config.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   log15adapter.NewLogger(logger.New("module", "pgx")),
		LogLevel: logLevel,
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	// An unreachable store is fatal, but the database may still be
	// coming up alongside us.
	err = backoff.Retry(
		func() error { return pool.Ping(ctx) },
		backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	return pool, nil
}

// setup is the shared bootstrapping for every command: config file,
// logger, pool, repository.
func setup(c *cli.Context) (ini.File, log.Logger, *data.PgxRepository, error) {
	conf, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := newLogger(conf)
	if err != nil {
		return nil, nil, nil, err
	}

	pool, err := newPool(context.Background(), conf, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	return conf, logger, data.NewPgxRepository(pool), nil
}

func newScheduler(conf ini.File, logger log.Logger, repo data.Repository) *ingest.Scheduler {
	scheduler := ingest.NewScheduler(repo, logger.New("module", "ingest"))
	if w, ok := conf.Get("ingest", "workers"); ok {
		if n, err := strconv.Atoi(w); err == nil && n > 0 {
			scheduler.Workers = n
		}
	}
	return scheduler
}

func Serve(c *cli.Context) error {
	conf, logger, repo, err := setup(c)
	if err != nil {
		return err
	}

	scheduler := newScheduler(conf, logger, repo)

	interval := 10 * time.Minute
	if m, ok := conf.Get("ingest", "interval"); ok {
		n, err := strconv.Atoi(m)
		if err != nil || n < 1 {
			return fmt.Errorf("bad ingest.interval: %v", m)
		}
		interval = time.Duration(n) * time.Minute
	}
	go keepFresh(scheduler, interval, logger.New("module", "ingest"))

	streamServer := stream.NewServer(repo, logger.New("module", "stream"))
	streamServer.ServerVersion = version

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	router.Mount("/", streamServer.Handler())

	listenAt := fmt.Sprintf("%s:%s", c.String("address"), c.String("port"))
	fmt.Printf("Starting to listen on: %s\n", listenAt)

	return http.ListenAndServe(listenAt, router)
}

// keepFresh runs ingestion passes forever, one per interval.
func keepFresh(scheduler *ingest.Scheduler, interval time.Duration, logger log.Logger) {
	for {
		startTime := time.Now()
		if _, err := scheduler.Run(context.Background()); err != nil {
			logger.Error("ingestion pass failed", "error", err)
		}
		sleepUntil(startTime.Add(interval))
	}
}

// sleepUntil sleeps until t. If t is in the past it returns immediately.
func sleepUntil(t time.Time) {
	time.Sleep(time.Until(t))
}

func Update(c *cli.Context) error {
	conf, logger, repo, err := setup(c)
	if err != nil {
		return err
	}

	stats, err := newScheduler(conf, logger, repo).Run(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("New items: %d\n", stats.NewItems)
	fmt.Printf("Already known: %d\n", stats.ExistingItems)
	fmt.Printf("Queue entries distributed: %d\n", stats.Distributed)
	return nil
}

func Refresh(c *cli.Context) error {
	subscriberID, err := subscriberIDArg(c)
	if err != nil {
		return err
	}

	conf, logger, repo, err := setup(c)
	if err != nil {
		return err
	}

	stats, err := newScheduler(conf, logger, repo).RefreshSubscriber(context.Background(), subscriberID)
	if err != nil {
		return err
	}

	fmt.Printf("New items: %d\n", stats.NewItems)
	fmt.Printf("Queue entries distributed: %d\n", stats.Distributed)
	return nil
}

func Prune(c *cli.Context) error {
	_, logger, repo, err := setup(c)
	if err != nil {
		return err
	}

	removed, err := ingest.NewSweeper(repo, logger.New("module", "ingest")).Prune(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Removed %d stale queue entries\n", removed)
	return nil
}

func AddSubscription(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.ShowCommandHelp(c, c.Command.Name)
	}
	subscriberID, err := strconv.ParseInt(c.Args().First(), 10, 32)
	if err != nil {
		return fmt.Errorf("bad subscriber-id: %v", err)
	}

	_, _, repo, err := setup(c)
	if err != nil {
		return err
	}

	id, err := repo.CreateSubscription(context.Background(), &data.Subscription{
		SubscriberID: int32(subscriberID),
		FeedURL:      c.Args().Get(1),
		Name:         c.String("name"),
		Category:     c.String("category"),
		Enabled:      true,
	})
	if err != nil {
		return err
	}

	fmt.Println("Subscription:", id)
	return nil
}

func AddSubscriber(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowCommandHelp(c, c.Command.Name)
	}

	_, _, repo, err := setup(c)
	if err != nil {
		return err
	}

	sub, err := repo.CreateSubscriber(context.Background(), c.Args().First())
	if err != nil {
		return err
	}

	fmt.Println("Subscriber:", sub.ID)
	fmt.Println("Token:", sub.Token)
	return nil
}

func RegenerateToken(c *cli.Context) error {
	subscriberID, err := subscriberIDArg(c)
	if err != nil {
		return err
	}

	_, _, repo, err := setup(c)
	if err != nil {
		return err
	}

	token, err := repo.RegenerateToken(context.Background(), subscriberID)
	if err != nil {
		return err
	}

	fmt.Println("Token:", token)
	return nil
}

func subscriberIDArg(c *cli.Context) (int32, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("expected exactly one argument: subscriber-id")
	}
	n, err := strconv.ParseInt(c.Args().First(), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad subscriber-id: %v", err)
	}
	return int32(n), nil
}
