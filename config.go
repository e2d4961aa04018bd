package main

import (
	"errors"
	"flag"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server         string
	Database       string
	Dsn            string
	Cache          bool
	Seed           bool
	RequestTimeout time.Duration
	Title          string
	Description    string
}

func NewConfig() *Config {
	return &Config{
		Server:         ":8080",
		Database:       "sqlite",
		Dsn:            "./db/shareit.sqlite",
		Cache:          true,
		Seed:           true,
		RequestTimeout: 10 * time.Second,
		Title:          "ShareIt",
		Description:    "Latest posts",
	}
}

// Load applies, in order, the variables from .env and the environment, then
// the command line flags in args.
func (c *Config) Load(args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := c.loadEnv(); err != nil {
		return err
	}

	fl := flag.NewFlagSet("shareit", flag.ContinueOnError)
	fl.StringVar(&c.Server, "server", c.Server, "listen address")
	fl.StringVar(&c.Database, "database", c.Database, "backend: memory, sqlite or postgres")
	fl.StringVar(&c.Dsn, "dsn", c.Dsn, "data source name of the backend")
	fl.BoolVar(&c.Cache, "cache", c.Cache, "cache subforums and users in memory")
	fl.BoolVar(&c.Seed, "seed", c.Seed, "create the default subforums on start")
	fl.DurationVar(&c.RequestTimeout, "timeout", c.RequestTimeout, "time limit of a single request")
	return fl.Parse(args)
}

func (c *Config) loadEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Server = ":" + v
	}
	if v := os.Getenv("DATABASE"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Dsn = v
	}
	if v := os.Getenv("USE_MOCK_DB"); v != "" {
		mock, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		if mock {
			c.Database = "memory"
		}
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		c.RequestTimeout = d
	}
	return nil
}
