package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bigkaa/metabostore/internal/audit"
	"github.com/bigkaa/metabostore/internal/domain/access"
	"github.com/bigkaa/metabostore/internal/domain/lifecycle"
	"github.com/bigkaa/metabostore/internal/domain/model"
	"github.com/bigkaa/metabostore/internal/isatab/isatest"
	"github.com/bigkaa/metabostore/internal/storage"
	"github.com/bigkaa/metabostore/internal/studylock"
	"github.com/bigkaa/metabostore/internal/validation"
)

var testNow = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func nowFn() time.Time { return testNow }

// testEnv — сервисы поверх репозиториев в памяти и каталогов во временной директории.
type testEnv struct {
	metaRoot, ftpRoot, publicRoot string

	studies *memStudies
	users   *memUsers
	counter *memCounter
	locks   *studylock.Registry

	meta   *storage.MountedStorage
	ftp    *storage.PrivateFTP
	public *storage.PublicFTP

	access     *AccessService
	validation *ValidationService
	svc        *StudyService

	submitter, other, curator access.Principal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testLogger()
	base := t.TempDir()
	e := &testEnv{
		metaRoot:   filepath.Join(base, "metadata"),
		ftpRoot:    filepath.Join(base, "ftp"),
		publicRoot: filepath.Join(base, "public"),
		studies:    newMemStudies(),
		counter:    &memCounter{},
		locks:      studylock.New(logger),
	}
	for _, d := range []string{e.metaRoot, e.ftpRoot, e.publicRoot} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}

	sub := &model.User{ID: "u1", Username: "alice", APIToken: "tok-alice", Role: model.RoleSubmitter, Active: true}
	other := &model.User{ID: "u2", Username: "bob", APIToken: "tok-bob", Role: model.RoleSubmitter, Active: true}
	cur := &model.User{ID: "c1", Username: "carol", APIToken: "tok-carol", Role: model.RoleCurator, Active: true}
	e.users = newMemUsers(sub, other, cur)
	e.submitter = access.Principal{User: sub}
	e.other = access.Principal{User: other}
	e.curator = access.Principal{User: cur}

	var err error
	e.meta, err = storage.NewMounted("metadata", e.metaRoot)
	require.NoError(t, err)
	ftpStore, err := storage.NewMounted("private-ftp", e.ftpRoot)
	require.NoError(t, err)
	e.ftp = storage.NewPrivateFTP(ftpStore, "", logger)
	publicStore, err := storage.NewMounted("public-ftp", e.publicRoot)
	require.NoError(t, err)
	e.public = storage.NewPublicFTP(publicStore, logger)
	// Публичные папки READ_ONLY: возвращаем права, чтобы TempDir удалился
	t.Cleanup(func() {
		entries, _ := os.ReadDir(e.publicRoot)
		for _, en := range entries {
			_ = publicStore.SetACL(context.Background(), en.Name(), model.ACLAuthorizedReadWrite)
		}
	})

	e.access = NewAccessService(e.users, e.studies, NewStudyCache(100, time.Minute), logger)
	validator := validation.New(validation.Options{Now: nowFn}, logger)
	e.validation = NewValidationService(validator, e.access, e.studies, e.locks,
		ValidationOptions{MetadataRoot: e.metaRoot}, logger)
	auditMgr := audit.New(e.metaRoot, e.locks, audit.Options{Now: nowFn}, logger)
	e.svc = NewStudyService(
		Repositories{Studies: e.studies, Accessions: e.counter},
		e.access, e.validation, auditMgr, e.ftp, e.meta, e.locks,
		lifecycle.ReleasePolicy{MinimumDelayDays: 7},
		StudyOptions{MetadataRoot: e.metaRoot, Now: nowFn},
		logger,
	)
	e.svc.SetPublicFTP(e.public)
	return e
}

// seedStudy создаёт запись MTBLS1 отправителя u1, папку FTP и, если
// withFiles, корректные ISA-файлы в области метаданных.
func (e *testEnv) seedStudy(t *testing.T, status model.StudyStatus, withFiles bool) *model.Study {
	t.Helper()
	st := &model.Study{
		Accession:       "MTBLS1",
		ObfuscationCode: "abc123",
		Status:          status,
		SubmissionDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ReleaseDate:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Submitters:      []string{"u1"},
	}
	e.studies.put(st)

	dir := filepath.Join(e.metaRoot, st.Accession)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if withFiles {
		isatest.WriteStudy(t, dir, isatest.Options{Accession: st.Accession})
	}
	_, err := e.ftp.CreateStudyFolder(context.Background(), st, model.ACLAuthorizedReadWrite)
	require.NoError(t, err)
	return st
}
