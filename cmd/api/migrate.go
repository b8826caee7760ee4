package main

import (
	"errors"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"thinkbigger/api/internal/store"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending migrations, or revert the latest ones with --down",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "down",
				Usage: "Revert the last `N` applied migrations instead of applying",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := store.Open(c.Context, cfg.Database.URL, store.DefaultPool)
			if err != nil {
				return err
			}
			defer db.Close()

			if steps := c.Int("down"); c.IsSet("down") {
				if steps <= 0 {
					return errors.New("--down needs a positive number of steps")
				}
				reverted, err := store.RevertMigrations(c.Context, db, cfg.Database.MigrationsDir, steps)
				if err != nil {
					return err
				}
				logger.Info("migrations reverted", zap.Strings("versions", reverted))
				return nil
			}

			applied, err := store.ApplyMigrations(c.Context, db, cfg.Database.MigrationsDir)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", zap.Strings("versions", applied))
			return nil
		},
	}
}
