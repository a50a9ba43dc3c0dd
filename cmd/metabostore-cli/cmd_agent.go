package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/metabostore/internal/storage"
)

func (c *cli) agentCmd() *cobra.Command {
	var (
		listen string
		token  string
	)
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Запустить агент удалённого хранилища поверх корня приватного FTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireRoot("--ftp-root", c.cfg.PrivateFTPRoot); err != nil {
				return err
			}
			if token == "" {
				token = c.cfg.PrivateFTPRemoteToken
			}
			if token == "" {
				return errors.New("не задан токен агента (--token или MS_PRIVATE_FTP_REMOTE_TOKEN)")
			}
			store, err := storage.NewMounted("private-ftp", c.cfg.PrivateFTPRoot)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              listen,
				Handler:           storage.NewAgent(store, token, c.logger).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				c.logger.Info("Агент хранилища запущен",
					slog.String("addr", listen),
					slog.String("root", store.Root()),
				)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return err
				}
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":8030", "адрес HTTP-агента")
	cmd.Flags().StringVar(&token, "token", "", "токен доступа к агенту")
	return cmd
}
