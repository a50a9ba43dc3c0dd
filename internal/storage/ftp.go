package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/metabostore/internal/domain/model"
)

// Подкаталоги папки исследования на приватном FTP.
const (
	RawFilesFolder     = "RAW_FILES"
	DerivedFilesFolder = "DERIVED_FILES"
)

// PrivateFTP — приватная область загрузки: папки <acc-lower>-<код>.
type PrivateFTP struct {
	store     Storage
	oldFolder string
	logger    *slog.Logger
}

// NewPrivateFTP создаёт обёртку приватного FTP. oldFolder — каталог
// архива для опубликованных исследований.
func NewPrivateFTP(store Storage, oldFolder string, logger *slog.Logger) *PrivateFTP {
	if oldFolder == "" {
		oldFolder = "old"
	}
	return &PrivateFTP{
		store:     store,
		oldFolder: oldFolder,
		logger:    logger.With(slog.String("component", "private_ftp")),
	}
}

// Storage возвращает базовое хранилище.
func (p *PrivateFTP) Storage() Storage { return p.store }

// Folder возвращает относительный путь папки исследования.
func (p *PrivateFTP) Folder(study *model.Study) string {
	return study.FTPFolderName()
}

// ArchivedFolder возвращает путь папки исследования в архиве.
func (p *PrivateFTP) ArchivedFolder(study *model.Study) string {
	return joinRel(p.oldFolder, study.FTPFolderName())
}

// CreateStudyFolder создаёт папку исследования с подкаталогами
// RAW_FILES и DERIVED_FILES и устанавливает ACL.
func (p *PrivateFTP) CreateStudyFolder(ctx context.Context, study *model.Study, acl model.ACL) (string, error) {
	folder := p.Folder(study)
	for _, sub := range []string{RawFilesFolder, DerivedFilesFolder} {
		if err := p.store.CreateFolder(ctx, joinRel(folder, sub), "", true); err != nil {
			return "", fmt.Errorf("создание %s/%s: %w", folder, sub, err)
		}
	}
	if err := p.store.CreateFolder(ctx, folder, acl, true); err != nil {
		return "", fmt.Errorf("создание папки исследования %s: %w", folder, err)
	}
	p.logger.Info("папка исследования создана",
		slog.String("study_id", study.Accession),
		slog.String("folder", folder),
		slog.String("acl", string(acl)),
	)
	return folder, nil
}

// StudyACL возвращает ACL папки исследования.
func (p *PrivateFTP) StudyACL(ctx context.Context, study *model.Study) (model.ACL, error) {
	return p.store.GetACL(ctx, p.Folder(study))
}

// SetStudyACL устанавливает ACL папки исследования.
func (p *PrivateFTP) SetStudyACL(ctx context.Context, study *model.Study, acl model.ACL) error {
	if err := p.store.SetACL(ctx, p.Folder(study), acl); err != nil {
		return fmt.Errorf("установка ACL %s для %s: %w", acl, study.Accession, err)
	}
	p.logger.Info("ACL папки исследования изменён",
		slog.String("study_id", study.Accession),
		slog.String("acl", string(acl)),
	)
	return nil
}

// ArchiveStudyFolder перемещает папку исследования в архивный каталог.
// Отсутствующая папка не считается ошибкой.
func (p *PrivateFTP) ArchiveStudyFolder(ctx context.Context, study *model.Study) (string, error) {
	src := p.Folder(study)
	dst := p.ArchivedFolder(study)
	if err := p.store.CreateFolder(ctx, p.oldFolder, "", true); err != nil {
		return "", fmt.Errorf("создание архивного каталога: %w", err)
	}
	if err := p.store.Move(ctx, src, dst); err != nil {
		if errors.Is(err, ErrNotFound) {
			p.logger.Warn("папка исследования отсутствует, архивирование пропущено",
				slog.String("study_id", study.Accession),
			)
			return "", nil
		}
		return "", fmt.Errorf("архивирование папки %s: %w", src, err)
	}
	p.logger.Info("папка исследования перемещена в архив",
		slog.String("study_id", study.Accession),
		slog.String("target", dst),
	)
	return dst, nil
}

// SyncTo синхронизирует sub-каталог папки исследования в target/targetRel.
func (p *PrivateFTP) SyncTo(ctx context.Context, study *model.Study, sub string, target Storage, targetRel string, opts MirrorOptions) (*Plan, error) {
	return Mirror(ctx, p.store, joinRel(p.Folder(study), sub), target, targetRel, opts)
}

// SyncFrom синхронизирует source/sourceRel в sub-каталог папки исследования.
func (p *PrivateFTP) SyncFrom(ctx context.Context, source Storage, sourceRel string, study *model.Study, sub string, opts MirrorOptions) (*Plan, error) {
	return Mirror(ctx, source, sourceRel, p.store, joinRel(p.Folder(study), sub), opts)
}

// PublicFTP — публичная область: папки <accession>, только для чтения.
type PublicFTP struct {
	store  Storage
	logger *slog.Logger
}

// NewPublicFTP создаёт обёртку публичного FTP.
func NewPublicFTP(store Storage, logger *slog.Logger) *PublicFTP {
	return &PublicFTP{
		store:  store,
		logger: logger.With(slog.String("component", "public_ftp")),
	}
}

// Publish копирует source/sourceRel в публичную папку исследования и
// устанавливает ACL READ_ONLY. Файлы, удалённые из источника, удаляются.
func (p *PublicFTP) Publish(ctx context.Context, studyID string, source Storage, sourceRel string, ignore []string) (*Plan, error) {
	if exists, err := p.store.Exists(ctx, studyID); err != nil {
		return nil, err
	} else if exists {
		// Папка могла остаться READ_ONLY после предыдущей публикации
		if err := p.store.SetACL(ctx, studyID, model.ACLAuthorizedReadWrite); err != nil {
			return nil, fmt.Errorf("снятие защиты публичной папки: %w", err)
		}
	}
	plan, err := Mirror(ctx, source, sourceRel, p.store, studyID, MirrorOptions{Delete: true, Ignore: ignore})
	if err != nil {
		return nil, fmt.Errorf("публикация %s: %w", studyID, err)
	}
	if err := p.store.CreateFolder(ctx, studyID, model.ACLReadOnly, true); err != nil {
		return nil, fmt.Errorf("установка ACL публичной папки: %w", err)
	}
	p.logger.Info("исследование опубликовано",
		slog.String("study_id", studyID),
		slog.Int("copied", len(plan.ToCopy)),
		slog.Int("updated", len(plan.ToUpdate)),
		slog.Int("deleted", len(plan.ToDelete)),
	)
	return plan, nil
}
