package access

import (
	"testing"

	"github.com/bigkaa/metabostore/internal/domain/model"
)

// TestResolve_Matrix проверяет матрицу прав по ролям и статусам.
func TestResolve_Matrix(t *testing.T) {
	submitter := Principal{User: &model.User{ID: "u1", Role: model.RoleSubmitter}}
	stranger := Principal{User: &model.User{ID: "u2", Role: model.RoleSubmitter}}
	curator := Principal{User: &model.User{ID: "c1", Role: model.RoleCurator}}
	reviewer := Principal{ReviewerCode: "code-1"}

	type rw struct{ view, edit bool }
	tests := []struct {
		name      string
		principal Principal
		want      map[model.StudyStatus]rw
	}{
		{"отправитель", submitter, map[model.StudyStatus]rw{
			model.StatusProvisional: {true, true},
			model.StatusPrivate:     {true, false},
			model.StatusInReview:    {true, false},
			model.StatusPublic:      {true, false},
			model.StatusDormant:     {false, false},
		}},
		{"рецензент", reviewer, map[model.StudyStatus]rw{
			model.StatusProvisional: {true, false},
			model.StatusPrivate:     {true, false},
			model.StatusInReview:    {true, false},
			model.StatusPublic:      {true, false},
			model.StatusDormant:     {false, false},
		}},
		{"куратор", curator, map[model.StudyStatus]rw{
			model.StatusProvisional: {true, true},
			model.StatusPrivate:     {true, true},
			model.StatusInReview:    {true, true},
			model.StatusPublic:      {true, true},
			model.StatusDormant:     {true, true},
		}},
		{"аноним", Anonymous, map[model.StudyStatus]rw{
			model.StatusProvisional: {false, false},
			model.StatusPrivate:     {false, false},
			model.StatusInReview:    {false, false},
			model.StatusPublic:      {true, false},
			model.StatusDormant:     {false, false},
		}},
		{"чужой отправитель", stranger, map[model.StudyStatus]rw{
			model.StatusProvisional: {false, false},
			model.StatusPublic:      {true, false},
		}},
	}

	for _, tt := range tests {
		for status, want := range tt.want {
			study := &model.Study{Accession: "MTBLS1", ObfuscationCode: "code-1", Status: status, Submitters: []string{"u1"}}
			got := Resolve(tt.principal, study)
			if got.View != want.view || got.Edit != want.edit {
				t.Errorf("%s/%s: ожидалось view=%v edit=%v, получено %+v", tt.name, status, want.view, want.edit, got)
			}
		}
	}
}

// TestResolve_ReviewerOtherStudy проверяет, что код рецензента открывает
// только исследование с совпадающим кодом.
func TestResolve_ReviewerOtherStudy(t *testing.T) {
	code, ok := ParseReviewerToken("ocode:abc")
	if !ok || code != "abc" {
		t.Fatalf("ParseReviewerToken: получено %q, %v", code, ok)
	}
	reviewer := Principal{ReviewerCode: code}

	own := &model.Study{Accession: "MTBLS1", ObfuscationCode: "abc", Status: model.StatusPrivate}
	other := &model.Study{Accession: "MTBLS2", ObfuscationCode: "xyz", Status: model.StatusPrivate}

	if !Resolve(reviewer, own).View {
		t.Error("ожидался доступ к своему исследованию")
	}
	if Resolve(reviewer, other).View {
		t.Error("не ожидался доступ к чужому исследованию")
	}
}

// TestParseReviewerToken проверяет разбор токенов.
func TestParseReviewerToken(t *testing.T) {
	for _, tok := range []string{"", "ocode:", "abc", "OCODE:abc"} {
		if _, ok := ParseReviewerToken(tok); ok {
			t.Errorf("токен %q не должен распознаваться как токен рецензента", tok)
		}
	}
}

// TestPrincipal_AtLeast проверяет сравнение привилегий.
func TestPrincipal_AtLeast(t *testing.T) {
	curator := Principal{User: &model.User{ID: "c", Role: model.RoleCurator}}
	if !curator.AtLeast(KindSubmitter) || !curator.AtLeast(KindCurator) {
		t.Error("куратор должен иметь привилегии не ниже отправителя")
	}
	if Anonymous.AtLeast(KindReviewer) {
		t.Error("аноним не должен иметь привилегий рецензента")
	}
	if Anonymous.Subject() != "anonymous" {
		t.Errorf("Subject: получено %q", Anonymous.Subject())
	}
}

// TestPrincipal_Subject проверяет имя субъекта в истории статусов.
func TestPrincipal_Subject(t *testing.T) {
	tests := []struct {
		name string
		p    Principal
		want string
	}{
		{"отправитель", Principal{User: &model.User{ID: "u1", Username: "alice", Role: model.RoleSubmitter}}, "alice"},
		{"куратор", Principal{User: &model.User{ID: "c1", Username: "carol", Role: model.RoleCurator}}, "carol"},
		{"без имени", Principal{User: &model.User{ID: "u9", Role: model.RoleSubmitter}}, "u9"},
		{"рецензент", Principal{ReviewerCode: "abc"}, "reviewer"},
		{"аноним", Anonymous, "anonymous"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Subject(); got != tt.want {
				t.Errorf("Subject() = %q, ожидалось %q", got, tt.want)
			}
		})
	}
}
