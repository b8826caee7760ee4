package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"thinkbigger/api/internal/client"
	"thinkbigger/api/internal/model"
	"thinkbigger/api/internal/session"
)

// tailCommand follows a project's chat from the terminal through the same
// session a project view uses.
func tailCommand() *cli.Command {
	return &cli.Command{
		Name:  "tail",
		Usage: "Follow a project's chat and your notifications",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "API base `URL`", Value: "http://localhost:8787"},
			&cli.StringFlag{Name: "token", Usage: "Bearer identity `TOKEN`", EnvVars: []string{"THINKBIGGER_TOKEN"}, Required: true},
			&cli.StringFlag{Name: "project", Usage: "Project `ID`", Required: true},
			&cli.StringFlag{Name: "candidate", Usage: "Follow the thread of candidate `ID` instead of the project thread"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			api := client.New(c.String("url"), c.String("token"))
			sess, err := session.Open(c.Context, session.Deps{
				Backend:      api,
				QuietPeriod:  cfg.Autosave.QuietPeriod,
				SaveTimeout:  cfg.Autosave.SaveTimeout,
				PollInterval: cfg.Chat.PollInterval,
				Logger:       logger,
			}, c.String("project"))
			if err != nil {
				if client.IsTerminal(err) {
					return fmt.Errorf("cannot open project: %w", err)
				}
				return err
			}

			doc := sess.Store().Document()
			out := c.App.Writer
			fmt.Fprintf(out, "%s (%d members)\n", doc.Title, len(doc.Members))
			if doc.ProblemStatement != "" {
				fmt.Fprintf(out, "  %s\n", doc.ProblemStatement)
			}

			var candidateID *string
			if id := c.String("candidate"); id != "" {
				candidateID = &id
			}

			var mu sync.Mutex
			printed := map[string]struct{}{}
			sess.OpenChat(candidateID, func(items []model.Message) {
				mu.Lock()
				defer mu.Unlock()
				for _, m := range items {
					if _, ok := printed[m.ID]; ok {
						continue
					}
					printed[m.ID] = struct{}{}
					fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), m.Author.Name, m.Content)
				}
			})
			unread := -1
			sess.WatchNotifications(func(items []model.Notification) {
				n := 0
				for _, item := range items {
					if !item.Read {
						n++
					}
				}
				mu.Lock()
				defer mu.Unlock()
				if n != unread {
					unread = n
					fmt.Fprintf(out, "-- %d unread notifications\n", n)
				}
			})

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			select {
			case <-sigCh:
			case <-c.Context.Done():
			}

			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Autosave.SaveTimeout)
			defer cancel()
			if err := sess.Close(closeCtx); err != nil {
				logger.Warn("close session", zap.Error(err))
			}
			return nil
		},
	}
}
