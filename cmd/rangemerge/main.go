package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/urfave/cli/v2"
	"reduction.dev/rangemerge/codec"
	cfg "reduction.dev/rangemerge/config"
	"reduction.dev/rangemerge/config/jsontemplate"
	"reduction.dev/rangemerge/logging"
	"reduction.dev/rangemerge/runscan"
	"reduction.dev/rangemerge/s3store"
	"reduction.dev/rangemerge/util/fileu"
)

var storeFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "store",
		Usage:    "memory, pebble:DIR, leveldb:DIR or s3://bucket/prefix",
		Required: true,
	},
	&cli.StringFlag{
		Name:  "log-level",
		Value: "warn",
		Usage: "debug, info, warn or error",
	},
	&cli.StringFlag{
		Name:  "s3-endpoint",
		Usage: "S3 endpoint override for S3-compatible services",
	},
	&cli.StringFlag{
		Name:  "s3-region",
		Usage: "AWS region for S3 requests",
	},
	&cli.StringFlag{
		Name:  "s3-profile",
		Usage: "AWS shared config profile",
	},
	&cli.StringFlag{
		Name:    "s3-access-key-id",
		EnvVars: []string{"RANGEMERGE_S3_ACCESS_KEY_ID"},
	},
	&cli.StringFlag{
		Name:    "s3-secret-access-key",
		EnvVars: []string{"RANGEMERGE_S3_SECRET_ACCESS_KEY"},
	},
	&cli.BoolFlag{
		Name:  "s3-path-style",
		Usage: "address buckets by path instead of virtual host",
	},
}

func main() {
	app := &cli.App{
		Name:  "rangemerge",
		Usage: "Read several key ranges of an ordered store as one ordered stream",
		Commands: []*cli.Command{{
			Name:      "seed",
			Usage:     "Write key=value lines into a store",
			Args:      true,
			ArgsUsage: "<file|->",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:  "key-encoding",
					Usage: "encoding of the keys in the input",
				},
				&cli.StringFlag{
					Name:  "value-encoding",
					Usage: "encoding of the values in the input",
				},
			}, storeFlags...),
			Action: func(ctx *cli.Context) error {
				if err := setupLogging(ctx.String("log-level")); err != nil {
					return err
				}
				input := ctx.Args().First()
				if input == "" {
					return fmt.Errorf("input path is required")
				}
				return seed(ctx, input)
			},
		}, {
			Name:      "scan",
			Usage:     "Run a merged read request against a store",
			Args:      true,
			ArgsUsage: "<request.json|s3://bucket/request.json|->",
			Flags: append([]cli.Flag{
				&cli.StringSliceFlag{
					Name:  "param",
					Usage: "NAME=VALUE for a $param in the request, repeatable",
				},
				&cli.StringFlag{
					Name:  "seed",
					Usage: "key=value file to load before scanning, useful with --store memory",
				},
				&cli.BoolFlag{
					Name:  "metrics",
					Usage: "print store metrics to stderr when done",
				},
			}, storeFlags...),
			Action: func(ctx *cli.Context) error {
				if err := setupLogging(ctx.String("log-level")); err != nil {
					return err
				}
				requestPath := ctx.Args().First()
				if requestPath == "" {
					return fmt.Errorf("request path is required")
				}
				err := scan(ctx, requestPath)
				if ctx.Bool("metrics") {
					metrics.WritePrometheus(os.Stderr, false)
				}
				if err != nil {
					slog.Error("terminated with error", "error", err)
				}
				return err
			},
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupLogging(level string) error {
	l, err := logging.ParseLevel(level)
	if err != nil {
		return err
	}
	logging.SetLevel(l)
	slog.SetDefault(slog.New(logging.NewTextHandler(os.Stderr)))
	return nil
}

// s3Client is only built when a location or input needs it so local runs
// never load AWS config.
func s3Client(ctx *cli.Context, needed bool) (s3store.S3Service, error) {
	if !needed {
		return nil, nil
	}
	client, err := s3store.NewClient(ctx.Context, s3store.NewClientParams{
		Endpoint:        ctx.String("s3-endpoint"),
		Region:          ctx.String("s3-region"),
		Profile:         ctx.String("s3-profile"),
		AccessKeyID:     ctx.String("s3-access-key-id"),
		SecretAccessKey: ctx.String("s3-secret-access-key"),
		UsePathStyle:    ctx.Bool("s3-path-style"),
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func openStore(ctx *cli.Context, inputs ...string) (runscan.Backend, s3store.S3Service, error) {
	location := ctx.String("store")
	needS3 := strings.HasPrefix(location, "s3://")
	for _, in := range inputs {
		needS3 = needS3 || strings.HasPrefix(in, "s3://")
	}
	svc, err := s3Client(ctx, needS3)
	if err != nil {
		return nil, nil, err
	}
	store, err := runscan.OpenStore(runscan.StoreParams{Location: location, S3: svc})
	if err != nil {
		return nil, nil, err
	}
	return store, svc, nil
}

func seedFrom(ctx context.Context, store runscan.Backend, svc s3store.S3Service, path string, keyEncoding, valueEncoding codec.Codec) error {
	data, err := fileu.ReadFile(ctx, path, svc)
	if err != nil {
		return err
	}
	n, err := runscan.Seed(store, bytes.NewReader(data), keyEncoding, valueEncoding)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	slog.Info("seeded store", "entries", n, "input", path)
	return nil
}

func seed(ctx *cli.Context, input string) error {
	keyEncoding, err := codec.Lookup(ctx.String("key-encoding"))
	if err != nil {
		return err
	}
	valueEncoding, err := codec.Lookup(ctx.String("value-encoding"))
	if err != nil {
		return err
	}

	store, svc, err := openStore(ctx, input)
	if err != nil {
		return err
	}
	defer store.Close()

	return seedFrom(ctx.Context, store, svc, input, keyEncoding, valueEncoding)
}

func scan(ctx *cli.Context, requestPath string) error {
	params := jsontemplate.NewParams()
	for _, p := range ctx.StringSlice("param") {
		name, value, ok := strings.Cut(p, "=")
		if !ok {
			return fmt.Errorf("param %q must be NAME=VALUE", p)
		}
		params.Set(name, value)
	}

	store, svc, err := openStore(ctx, requestPath, ctx.String("seed"))
	if err != nil {
		return err
	}
	defer store.Close()

	if seedPath := ctx.String("seed"); seedPath != "" {
		if err := seedFrom(ctx.Context, store, svc, seedPath, nil, nil); err != nil {
			return err
		}
	}

	data, err := fileu.ReadFile(ctx.Context, requestPath, svc)
	if err != nil {
		return err
	}
	req, err := cfg.Unmarshal(data, params)
	if err != nil {
		return err
	}
	opts, err := req.Options()
	if err != nil {
		return fmt.Errorf("request validation error: %v", err)
	}

	_, err = runscan.Run(ctx.Context, runscan.RunParams{
		Store:   store,
		Options: opts,
		Output:  os.Stdout,
	})
	if s3Store, ok := store.(*s3store.Store); ok {
		cheap, expensive := s3Store.Usage().Requests()
		slog.Info("s3 usage", "getRequests", cheap, "listAndPutRequests", expensive, "cost", s3Store.Usage().TotalCost())
	}
	return err
}
