package storage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// Операции плана синхронизации.
const (
	OpCopy   = "copy"
	OpUpdate = "update"
	OpDelete = "delete"
	OpMkdir  = "mkdir"
)

// MirrorOptions — параметры односторонней синхронизации.
type MirrorOptions struct {
	// DryRun — только вычислить план
	DryRun bool
	// Delete — удалять в приёмнике файлы, отсутствующие в источнике
	Delete bool
	// Checksum — сравнивать содержимое по SHA-256, а не по размеру и времени
	Checksum bool
	// Ignore — имена (базовые или относительные пути), исключаемые с обеих сторон
	Ignore []string
	// Filter — дополнительный отбор путей; исключённый каталог исключает поддерево
	Filter func(e Entry) bool
	// OnChange вызывается после каждой выполненной операции
	OnChange func(op, rel string)
}

// Plan — результат сравнения деревьев.
type Plan struct {
	ToCopy   []string `json:"to_copy"`
	ToUpdate []string `json:"to_update"`
	ToDelete []string `json:"to_delete"`
	// Dirs — каталоги, отсутствующие в приёмнике
	Dirs []string `json:"dirs,omitempty"`
}

// Empty проверяет, что план не содержит изменений.
func (p *Plan) Empty() bool {
	return len(p.ToCopy) == 0 && len(p.ToUpdate) == 0 && len(p.ToDelete) == 0 && len(p.Dirs) == 0
}

// Mirror сравнивает src/srcRel с dst/dstRel и, если не DryRun, приводит
// приёмник к состоянию источника. Выполнение прерывается на границе файла
// при отмене контекста; частично записанный файл не остаётся в приёмнике.
// Повторный вызов без изменений в источнике не выполняет операций.
func Mirror(ctx context.Context, src Storage, srcRel string, dst Storage, dstRel string, opts MirrorOptions) (*Plan, error) {
	srcEntries, err := src.Walk(ctx, srcRel)
	if err != nil {
		return nil, fmt.Errorf("обход источника %s: %w", src.Name(), err)
	}
	srcEntries = selectEntries(srcEntries, opts)

	var dstEntries []Entry
	if ok, err := dst.Exists(ctx, dstRel); err != nil {
		return nil, fmt.Errorf("проверка приёмника %s: %w", dst.Name(), err)
	} else if ok {
		dstEntries, err = dst.Walk(ctx, dstRel)
		if err != nil {
			return nil, fmt.Errorf("обход приёмника %s: %w", dst.Name(), err)
		}
		dstEntries = selectEntries(dstEntries, opts)
	}

	plan, err := diff(ctx, src, srcRel, srcEntries, dst, dstRel, dstEntries, opts)
	if err != nil {
		return nil, err
	}
	if opts.DryRun || plan.Empty() {
		return plan, nil
	}
	return plan, apply(ctx, src, srcRel, srcEntries, dst, dstRel, plan, opts)
}

func diff(ctx context.Context, src Storage, srcRel string, srcEntries []Entry,
	dst Storage, dstRel string, dstEntries []Entry, opts MirrorOptions) (*Plan, error) {

	target := make(map[string]Entry, len(dstEntries))
	for _, e := range dstEntries {
		target[e.Path] = e
	}
	source := make(map[string]Entry, len(srcEntries))
	for _, e := range srcEntries {
		source[e.Path] = e
	}

	var srcHashes, dstHashes map[string]string
	if opts.Checksum {
		var err error
		if srcHashes, err = src.HashTree(ctx, srcRel); err != nil {
			return nil, fmt.Errorf("хэширование источника: %w", err)
		}
		if len(dstEntries) > 0 {
			if dstHashes, err = dst.HashTree(ctx, dstRel); err != nil {
				return nil, fmt.Errorf("хэширование приёмника: %w", err)
			}
		}
	}

	plan := &Plan{}
	for _, e := range srcEntries {
		t, ok := target[e.Path]
		switch {
		case e.IsSymlink:
			continue
		case e.IsDir:
			if !ok {
				plan.Dirs = append(plan.Dirs, e.Path)
			} else if !t.IsDir {
				plan.ToDelete = append(plan.ToDelete, e.Path)
				plan.Dirs = append(plan.Dirs, e.Path)
			}
		case !ok:
			plan.ToCopy = append(plan.ToCopy, e.Path)
		case t.IsDir:
			plan.ToDelete = append(plan.ToDelete, e.Path)
			plan.ToCopy = append(plan.ToCopy, e.Path)
		case opts.Checksum:
			if srcHashes[e.Path] != dstHashes[e.Path] {
				plan.ToUpdate = append(plan.ToUpdate, e.Path)
			}
		case e.Size != t.Size || !sameTime(e.ModTime, t.ModTime):
			plan.ToUpdate = append(plan.ToUpdate, e.Path)
		}
	}

	if opts.Delete {
		for _, e := range dstEntries {
			if _, ok := source[e.Path]; ok {
				continue
			}
			if coveredBy(plan.ToDelete, e.Path) {
				continue
			}
			plan.ToDelete = append(plan.ToDelete, e.Path)
		}
	}
	// Удаление начинается с самых глубоких путей
	sort.Slice(plan.ToDelete, func(i, j int) bool { return plan.ToDelete[i] > plan.ToDelete[j] })
	return plan, nil
}

func apply(ctx context.Context, src Storage, srcRel string, srcEntries []Entry,
	dst Storage, dstRel string, plan *Plan, opts MirrorOptions) error {

	notify := func(op, rel string) {
		if opts.OnChange != nil {
			opts.OnChange(op, rel)
		}
	}
	modTimes := make(map[string]time.Time, len(srcEntries))
	for _, e := range srcEntries {
		modTimes[e.Path] = e.ModTime
	}

	for _, rel := range plan.ToDelete {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := dst.Remove(ctx, joinRel(dstRel, rel)); err != nil {
			return fmt.Errorf("удаление %s: %w", rel, err)
		}
		notify(OpDelete, rel)
	}
	for _, rel := range plan.Dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := dst.CreateFolder(ctx, joinRel(dstRel, rel), "", true); err != nil {
			return fmt.Errorf("создание каталога %s: %w", rel, err)
		}
		notify(OpMkdir, rel)
	}

	copyOne := func(op, rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := src.Open(ctx, joinRel(srcRel, rel))
		if err != nil {
			return fmt.Errorf("чтение %s: %w", rel, err)
		}
		defer r.Close()
		if err := dst.Put(ctx, joinRel(dstRel, rel), r, modTimes[rel]); err != nil {
			return fmt.Errorf("запись %s: %w", rel, err)
		}
		notify(op, rel)
		return nil
	}
	for _, rel := range plan.ToCopy {
		if err := copyOne(OpCopy, rel); err != nil {
			return err
		}
	}
	for _, rel := range plan.ToUpdate {
		if err := copyOne(OpUpdate, rel); err != nil {
			return err
		}
	}
	return nil
}

// selectEntries применяет Ignore, Filter и исключает временные файлы.
// Исключённый каталог исключает всё поддерево.
func selectEntries(entries []Entry, opts MirrorOptions) []Entry {
	ignore := make(map[string]struct{}, len(opts.Ignore))
	for _, n := range opts.Ignore {
		ignore[strings.Trim(n, "/")] = struct{}{}
	}

	var excluded []string
	out := entries[:0:0]
	for _, e := range entries {
		if hasExcludedPrefix(excluded, e.Path) {
			continue
		}
		_, byName := ignore[path.Base(e.Path)]
		_, byPath := ignore[e.Path]
		skip := byName || byPath || isTempName(e.Path) || (opts.Filter != nil && !opts.Filter(e))
		if skip {
			if e.IsDir {
				excluded = append(excluded, e.Path+"/")
			}
			continue
		}
		out = append(out, e)
	}
	return out
}

func hasExcludedPrefix(prefixes []string, p string) bool {
	for _, pre := range prefixes {
		if strings.HasPrefix(p, pre) {
			return true
		}
	}
	return false
}

// coveredBy проверяет, удаляется ли путь вместе с одним из предков.
func coveredBy(deleted []string, p string) bool {
	for _, d := range deleted {
		if p == d || strings.HasPrefix(p, d+"/") {
			return true
		}
	}
	return false
}

// sameTime сравнивает время модификации с точностью до секунды.
func sameTime(a, b time.Time) bool {
	return a.Truncate(time.Second).Equal(b.Truncate(time.Second))
}

// isTempName проверяет, является ли путь временным файлом Put.
func isTempName(p string) bool {
	base := path.Base(p)
	return strings.HasPrefix(base, ".") && strings.HasSuffix(base, TempSuffix)
}
