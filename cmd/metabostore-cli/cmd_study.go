package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/metabostore/internal/audit"
	"github.com/bigkaa/metabostore/internal/studylock"
	"github.com/bigkaa/metabostore/internal/validation"
)

func (c *cli) validateCmd() *cobra.Command {
	var (
		sf       studyFlags
		section  string
		level    string
		failOnEr bool
	)
	cmd := &cobra.Command{
		Use:   "validate <accession>",
		Short: "Проверить метаданные исследования и вывести отчёт",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRoot("--metadata-root", c.cfg.MetadataRoot); err != nil {
				return err
			}
			filter, err := validation.ParseFilter(section)
			if err != nil {
				return err
			}
			logFilter, err := validation.ParseLogFilter(level)
			if err != nil {
				return err
			}
			st, err := sf.study(args[0])
			if err != nil {
				return err
			}
			var schemas *validation.SchemaLoader
			if c.cfg.ValidationSchemaURL != "" {
				schemas = validation.NewSchemaLoader(c.cfg.ValidationSchemaURL, c.cfg.ValidationSchemaTTL, c.logger)
			}
			v := validation.New(validation.Options{
				Classifier:        c.classifier(),
				SkipFolderNames:   c.cfg.SkipFolderNames,
				IgnoreFiles:       c.cfg.IgnoreFileList,
				ListTimeout:       c.cfg.ListFilesTimeout,
				InvestigationFile: c.cfg.InvestigationFilename,
				Schemas:           schemas,
			}, c.logger)

			report, err := v.Validate(cmd.Context(), validation.Input{
				Study:    st,
				StudyDir: c.studyDir(st.Accession),
				DataDir:  c.dataDir(st.Accession),
				Filter:   filter,
				Log:      logFilter,
			})
			if err != nil {
				return err
			}
			if err := c.print(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if failOnEr && report.Status == validation.StatusError {
				return fmt.Errorf("исследование %s не прошло валидацию", st.Accession)
			}
			return nil
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&section, "section", "", "фильтр секций (all, basic, isa-tab, person, ...)")
	cmd.Flags().StringVar(&level, "level", "", "фильтр деталей отчёта (error, warning, info, success, all)")
	cmd.Flags().BoolVar(&failOnEr, "fail-on-error", false, "код выхода 1, если отчёт содержит ошибки")
	return cmd
}

func (c *cli) auditCmd() *cobra.Command {
	var force, list bool
	cmd := &cobra.Command{
		Use:   "audit <accession>",
		Short: "Создать снимок аудита метаданных, если они изменились",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRoot("--metadata-root", c.cfg.MetadataRoot); err != nil {
				return err
			}
			m := audit.New(c.cfg.MetadataRoot, studylock.New(c.logger), audit.Options{
				TimestampLayout: c.cfg.AuditTimestampFormat,
			}, c.logger)
			if list {
				snaps, err := m.List(args[0])
				if err != nil {
					return err
				}
				if snaps == nil {
					snaps = []audit.Snapshot{}
				}
				return c.print(cmd.OutOrStdout(), snaps)
			}
			res, err := m.Snapshot(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "создать снимок даже без изменений")
	cmd.Flags().BoolVar(&list, "list", false, "вывести существующие снимки")
	return cmd
}
