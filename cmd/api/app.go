package main

import (
	"context"
	"fmt"

	"github.com/petermazzocco/go-image-sharing/internal/blob"
	"github.com/petermazzocco/go-image-sharing/internal/config"
	"github.com/petermazzocco/go-image-sharing/internal/database"
	"github.com/petermazzocco/go-image-sharing/internal/images"
	"github.com/petermazzocco/go-image-sharing/internal/imaging"
	"github.com/petermazzocco/go-image-sharing/internal/logging"
	"github.com/petermazzocco/go-image-sharing/internal/users"
	"github.com/petermazzocco/go-image-sharing/internal/viewlog"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// env is the configuration, logger and database every command needs.
type env struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Session.Generated {
		log.Warn("SESSION_SECRET is not set, using a random secret; sessions end on restart")
	}

	// Database connection
	db, err := database.Open(cfg.Database, log)
	if err != nil {
		log.Error("failed to connect to database", zap.Error(err))
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := database.EnsureReferenceData(c.Context, db, cfg.Tags); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	return &env{cfg: cfg, log: log, db: db}, nil
}

func (e *env) close() {
	if sqlDB, err := e.db.DB(); err == nil {
		sqlDB.Close()
	}
	e.log.Sync()
}

func (e *env) blobs(ctx context.Context) (blob.Store, error) {
	switch e.cfg.Blob.Provider {
	case "s3":
		client, err := blob.NewS3Client(ctx, e.cfg.S3)
		if err != nil {
			return nil, err
		}
		e.log.Info("using s3 blob store", zap.String("bucket", e.cfg.S3.Bucket))
		return blob.NewS3Store(client, e.cfg.S3.Bucket, e.cfg.S3.PublicURL), nil
	default:
		e.log.Info("using local blob store", zap.String("root", e.cfg.Blob.LocalRoot))
		return blob.NewLocalStore(e.cfg.Blob.LocalRoot)
	}
}

// viewStore returns the view log store and a cleanup func.
func (e *env) viewStore(ctx context.Context) (viewlog.Store, func(), error) {
	if e.cfg.LogStore != "redis" {
		return viewlog.NewGormStore(e.db), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     e.cfg.Redis.Addr,
		Password: e.cfg.Redis.Password,
		DB:       e.cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", e.cfg.Redis.Addr, err)
	}
	return viewlog.NewRedisStore(rdb, e.cfg.Redis.Prefix), func() { rdb.Close() }, nil
}

func (e *env) services(ctx context.Context) (*images.Service, *users.Service, error) {
	blobs, err := e.blobs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("blob store: %w", err)
	}
	opts := images.Options{
		RequireApproval: e.cfg.Images.RequireApproval,
		ReconcileGrace:  e.cfg.Images.ReconcileGrace,
	}
	if e.cfg.Images.ConvertJPEG {
		opts.Encoder = imaging.JPEGEncoder{}
	}
	imgs := images.NewService(images.NewStore(e.db), blobs, e.log, opts)
	return imgs, users.NewService(users.NewStore(e.db), imgs, e.log), nil
}

func migrate(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()
	e.log.Info("database migrated", zap.String("driver", e.cfg.Database.Driver), zap.Strings("tags", e.cfg.Tags))
	return nil
}

func promote(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: promote <user name> <role>", 2)
	}
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	us := users.NewService(users.NewStore(e.db), nil, e.log)
	name, role := c.Args().Get(0), c.Args().Get(1)
	if err := us.Promote(c.Context, name, role); err != nil {
		return err
	}
	e.log.Info("role granted", zap.String("user_name", name), zap.String("role", role))
	return nil
}
