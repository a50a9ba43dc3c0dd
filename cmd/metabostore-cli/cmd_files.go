package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/isatab"
	"github.com/bigkaa/metabostore/internal/storage/walker"
)

// walkResult — вывод команды walk.
type walkResult struct {
	Root      string                 `json:"root"`
	Files     []model.FileDescriptor `json:"files"`
	Truncated bool                   `json:"truncated"`
	Warnings  []string               `json:"warnings,omitempty"`
}

func (c *cli) walkCmd() *cobra.Command {
	var (
		all     bool
		skip    []string
		timeout time.Duration
		refsDir string
	)
	cmd := &cobra.Command{
		Use:   "walk <dir>",
		Short: "Обойти дерево файлов и вывести классифицированные записи",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if skip == nil {
				skip = c.cfg.SkipFolderNames
			}
			refs := model.NewReferenceSet()
			if refsDir != "" {
				bundle, err := isatab.Load(refsDir, isatab.LoadOptions{FileName: c.cfg.InvestigationFilename})
				if err != nil {
					return err
				}
				refs = isatab.References(bundle)
			}
			w := walker.New(walker.Options{
				SkipFolderNames: skip,
				ListAllFiles:    all,
				Timeout:         timeout,
				Classifier:      c.classifier(),
				References:      refs,
			}, c.logger)

			listing := w.Walk(cmd.Context(), args[0])
			res := walkResult{Root: args[0], Files: listing.Collect()}
			res.Truncated, res.Warnings = listing.Truncated(), listing.Warnings()
			if res.Files == nil {
				res.Files = []model.FileDescriptor{}
			}
			return c.print(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "выводить скрытые файлы и каталоги")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "каталоги, в которые обход не заходит")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "дедлайн обхода (0 — по умолчанию)")
	cmd.Flags().StringVar(&refsDir, "refs", "", "каталог метаданных для определения статуса active")
	return cmd
}

// classified — вид одного пути.
type classified struct {
	Path string         `json:"path"`
	Kind model.FileKind `json:"type"`
}

func (c *cli) classifyCmd() *cobra.Command {
	var base string
	cmd := &cobra.Command{
		Use:   "classify <path>...",
		Short: "Определить вид файлов по имени, расширению и содержимому каталога",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cls := c.classifier()
			out := make([]classified, 0, len(args))
			for _, rel := range args {
				full := rel
				if base != "" {
					full = filepath.Join(base, rel)
				}
				var (
					isDir   bool
					entries []string
				)
				if info, err := os.Stat(full); err == nil && info.IsDir() {
					isDir = true
					des, err := os.ReadDir(full)
					if err != nil {
						return fmt.Errorf("чтение каталога %s: %w", full, err)
					}
					for _, de := range des {
						entries = append(entries, de.Name())
					}
				}
				out = append(out, classified{Path: filepath.ToSlash(rel), Kind: cls.Kind(filepath.ToSlash(rel), isDir, entries)})
			}
			return c.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "каталог, относительно которого заданы пути")
	return cmd
}
