package main

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/storage"
	"github.com/bigkaa/metabostore/internal/storage/journal"
	"github.com/bigkaa/metabostore/internal/studylock"
	"github.com/bigkaa/metabostore/internal/syncengine"
)

func (c *cli) syncCmd() *cobra.Command {
	var (
		sf        studyFlags
		category  string
		direction string
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "sync <accession>",
		Short: "Синхронизировать приватный FTP и хранилища исследования",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRoot("--metadata-root", c.cfg.MetadataRoot); err != nil {
				return err
			}
			if sf.code == "" {
				return errors.New("не задан --code: папка FTP определяется кодом обфускации")
			}
			st, err := sf.study(args[0])
			if err != nil {
				return err
			}
			engine, err := c.syncEngine()
			if err != nil {
				return err
			}
			if _, err := engine.Recover(cmd.Context()); err != nil {
				c.logger.Warn("Ошибка восстановления журнала синхронизации", slog.String("error", err.Error()))
			}

			plan, err := engine.Sync(cmd.Context(), syncengine.Request{
				Study:     st,
				Category:  model.SyncCategory(strings.ToLower(category)),
				Direction: model.SyncDirection(strings.ToLower(direction)),
				DryRun:    dryRun,
			})
			if plan != nil {
				if perr := c.print(cmd.OutOrStdout(), plan); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&category, "category", string(model.SyncMetadata), "категория: metadata, data, internal")
	cmd.Flags().StringVar(&direction, "direction", string(model.SyncUpload), "направление: upload, download")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "только вычислить план")
	return cmd
}

// syncEngine открывает хранилища и журнал по конфигурации.
func (c *cli) syncEngine() (*syncengine.Engine, error) {
	meta, err := storage.NewMounted("metadata", c.cfg.MetadataRoot)
	if err != nil {
		return nil, err
	}
	ftpStore, err := storage.Open("private-ftp", c.cfg.PrivateFTPMountType, c.cfg.PrivateFTPRoot,
		storage.RemoteOptions{URL: c.cfg.PrivateFTPRemoteURL, Token: c.cfg.PrivateFTPRemoteToken}, c.logger)
	if err != nil {
		return nil, err
	}
	var data storage.Storage
	if c.cfg.ReadonlyDataRoot != "" {
		if data, err = storage.NewMounted("readonly-data", c.cfg.ReadonlyDataRoot); err != nil {
			return nil, err
		}
	}
	j, err := journal.New(c.cfg.SyncJournalDir, c.logger)
	if err != nil {
		return nil, err
	}
	return syncengine.New(
		syncengine.Stores{
			FTP:      storage.NewPrivateFTP(ftpStore, c.cfg.PrivateFTPOldFolder, c.logger),
			Metadata: meta,
			Data:     data,
		},
		studylock.New(c.logger), j,
		syncengine.Options{
			Ignore:            append(append([]string{}, c.cfg.IgnoreFileList...), c.cfg.InternalMappingList...),
			SkipFolderNames:   c.cfg.SkipFolderNames,
			InvestigationFile: c.cfg.InvestigationFilename,
		},
		c.logger,
	), nil
}
