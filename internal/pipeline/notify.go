package pipeline

import (
	"context"
	"log/slog"
	"strings"
)

// Notifier уведомляет отправителя об успешном завершении конвейера.
type Notifier interface {
	Notify(ctx context.Context, req Request, res *Result) error
}

// LogNotifier записывает уведомление в журнал вместо отправки письма.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify записывает итог запуска.
func (n LogNotifier) Notify(_ context.Context, req Request, res *Result) error {
	n.Logger.Info("Уведомление о завершении конвейера Metabolon",
		slog.String("study", req.Study),
		slog.String("to", strings.Join(req.Notify, ",")),
		slog.String("release_date", res.ReleaseDate),
		slog.Int("files", len(res.Files)),
	)
	return nil
}
