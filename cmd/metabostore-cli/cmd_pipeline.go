package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/bigkaa/metabostore/internal/pipeline"
)

func (c *cli) pipelineCmd() *cobra.Command {
	var (
		converter string
		notify    []string
	)
	cmd := &cobra.Command{
		Use:   "pipeline <accession>",
		Short: "Запустить конвейер приёма данных Metabolon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRoot("--metadata-root", c.cfg.MetadataRoot); err != nil {
				return err
			}
			if converter == "" {
				converter = c.cfg.MzML2ISACommand
			}
			p, err := pipeline.New(pipeline.Options{
				SchemaPath:                c.cfg.MzMLXSDSchemaFilePath,
				InvestigationTemplatePath: c.cfg.PartnerMetabolonTemplatePath,
				InvestigationFile:         c.cfg.InvestigationFilename,
				SkipFolderNames:           c.cfg.SkipFolderNames,
				Converter:                 pipeline.ExecConverter{Command: converter},
				Notifier:                  pipeline.LogNotifier{Logger: c.logger},
			}, c.logger)
			if err != nil {
				return err
			}

			acc := args[0]
			res, runErr := p.Run(cmd.Context(), pipeline.Request{
				Study:    acc,
				StudyDir: c.studyDir(acc),
				DataDir:  c.dataDir(acc),
				Notify:   notify,
			})
			if res != nil {
				if err := c.print(cmd.OutOrStdout(), res); err != nil {
					return errors.Join(runErr, err)
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&converter, "converter", "", "команда конвертера mzML → ISA (по умолчанию MS_MZML2ISA_COMMAND)")
	cmd.Flags().StringSliceVar(&notify, "notify", nil, "адреса получателей уведомления")
	return cmd
}
