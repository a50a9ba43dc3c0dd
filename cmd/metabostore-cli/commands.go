package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bigkaa/metabostore/internal/config"
	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/storage/classifier"
)

// cli — общее состояние команд: конфигурация и глобальные флаги.
type cli struct {
	cfg    *config.Config
	logger *slog.Logger

	metadataRoot string
	dataRoot     string
	ftpRoot      string
	output       string
	verbose      bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "metabostore-cli",
		Short:         "Локальные операции над исследованиями metabostore",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.metadataRoot, "metadata-root", "", "корень метаданных (по умолчанию MS_METADATA_ROOT)")
	pf.StringVar(&c.dataRoot, "data-root", "", "корень read-only данных (по умолчанию MS_READONLY_DATA_ROOT)")
	pf.StringVar(&c.ftpRoot, "ftp-root", "", "корень приватного FTP (по умолчанию MS_PRIVATE_FTP_ROOT)")
	pf.StringVarP(&c.output, "output", "o", "json", "формат вывода: json или yaml")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "подробный журнал в stderr")

	root.AddCommand(
		c.walkCmd(),
		c.classifyCmd(),
		c.validateCmd(),
		c.auditCmd(),
		c.syncCmd(),
		c.pipelineCmd(),
		c.agentCmd(),
	)
	return root
}

// init загружает конфигурацию из окружения; флаги переопределяют корни.
func (c *cli) init(cmd *cobra.Command) error {
	if c.output != "json" && c.output != "yaml" {
		return fmt.Errorf("неизвестный формат вывода %q", c.output)
	}
	cfg, err := config.LoadLocal()
	if err != nil {
		return err
	}
	if c.metadataRoot != "" {
		cfg.MetadataRoot = c.metadataRoot
	}
	if c.dataRoot != "" {
		cfg.ReadonlyDataRoot = c.dataRoot
	}
	if c.ftpRoot != "" {
		cfg.PrivateFTPRoot = c.ftpRoot
	}
	if cfg.SyncJournalDir == "" && cfg.MetadataRoot != "" {
		cfg.SyncJournalDir = filepath.Join(cfg.MetadataRoot, ".sync-journal")
	}
	c.cfg = cfg

	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

// requireRoot проверяет, что корень задан.
func requireRoot(name, value string) error {
	if value == "" {
		return fmt.Errorf("не задан %s", name)
	}
	return nil
}

func (c *cli) classifier() *classifier.Classifier {
	return classifier.New(classifier.Options{
		RawExtensions:        c.cfg.RawFileExtensions,
		DerivedExtensions:    c.cfg.DerivedFileExtensions,
		CompressedExtensions: c.cfg.CompressedFileExtensions,
		StopFolderExtensions: c.cfg.StopFolderExtensions,
		InternalMappingList:  c.cfg.InternalMappingList,
	})
}

func (c *cli) studyDir(acc string) string {
	return filepath.Join(c.cfg.MetadataRoot, acc)
}

func (c *cli) dataDir(acc string) string {
	if c.cfg.ReadonlyDataRoot == "" {
		return ""
	}
	dir := filepath.Join(c.cfg.ReadonlyDataRoot, acc)
	if _, err := os.Stat(dir); err != nil {
		return ""
	}
	return dir
}

// studyFlags — атрибуты исследования, которые сервис берёт из базы.
type studyFlags struct {
	code        string
	status      string
	releaseDate string
	overrides   []string
	comments    []string
}

func (f *studyFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.code, "code", "", "код обфускации исследования")
	fl.StringVar(&f.status, "status", "Provisional", "статус исследования")
	fl.StringVar(&f.releaseDate, "release-date", "", "дата публикации YYYY-MM-DD (по умолчанию через год)")
	fl.StringSliceVar(&f.overrides, "override", nil, "запись куратора <section>_<sequence>:<status>")
	fl.StringSliceVar(&f.comments, "comment", nil, "комментарий куратора <section>_<sequence>:<text>")
}

func (f *studyFlags) study(acc string) (*model.Study, error) {
	status, err := model.ParseStudyStatus(f.status)
	if err != nil {
		return nil, err
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	release := today.AddDate(1, 0, 0)
	if f.releaseDate != "" {
		if release, err = time.Parse(time.DateOnly, f.releaseDate); err != nil {
			return nil, fmt.Errorf("release-date: %w", err)
		}
	}
	return &model.Study{
		Accession:        acc,
		ObfuscationCode:  f.code,
		Status:           status,
		SubmissionDate:   today,
		ReleaseDate:      release,
		CuratorOverrides: f.overrides,
		CuratorComments:  f.comments,
	}, nil
}

// print выводит значение в выбранном формате.
func (c *cli) print(w io.Writer, v any) error {
	if c.output == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(toPlain(v))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// toPlain переводит значение в JSON-представление, чтобы YAML
// использовал те же имена полей и метки перечислений.
func toPlain(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
