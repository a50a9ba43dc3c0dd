// Пакет access — матрица прав доступа к исследованиям.
// Роль субъекта × статус исследования → чтение/запись.
// Рецензент определяется токеном с префиксом "ocode:" и получает
// только чтение одного исследования с совпадающим кодом.
package access

import (
	"crypto/subtle"
	"strings"

	"github.com/bigkaa/metabostore/internal/domain/model"
)

// ReviewerTokenPrefix — префикс токена держателя кода обфускации.
const ReviewerTokenPrefix = "ocode:"

// Kind — вид субъекта запроса.
type Kind string

const (
	KindAnonymous Kind = "anonymous"
	KindSubmitter Kind = "submitter"
	KindReviewer  Kind = "reviewer"
	KindCurator   Kind = "curator"
)

// kindWeight — вес субъекта для сравнения привилегий.
var kindWeight = map[Kind]int{
	KindAnonymous: 0,
	KindReviewer:  1,
	KindSubmitter: 2,
	KindCurator:   3,
}

// Permission — итоговые права субъекта на исследование.
type Permission struct {
	View  bool `json:"view"`
	Edit  bool `json:"edit"`
	Owner bool `json:"owner"`
}

// Principal — субъект запроса.
type Principal struct {
	// User — зарегистрированный пользователь (nil для анонима и рецензента)
	User *model.User
	// ReviewerCode — код обфускации из токена рецензента
	ReviewerCode string
}

// Anonymous — анонимный субъект.
var Anonymous = Principal{}

// Kind возвращает вид субъекта.
func (p Principal) Kind() Kind {
	switch {
	case p.User.IsCurator():
		return KindCurator
	case p.User != nil:
		return KindSubmitter
	case p.ReviewerCode != "":
		return KindReviewer
	default:
		return KindAnonymous
	}
}

// AtLeast проверяет, что привилегии субъекта не ниже указанного вида.
func (p Principal) AtLeast(k Kind) bool {
	return kindWeight[p.Kind()] >= kindWeight[k]
}

// Subject возвращает имя субъекта для журналов и истории статусов:
// имя пользователя (ID, если имя не задано), reviewer или anonymous.
func (p Principal) Subject() string {
	switch p.Kind() {
	case KindCurator, KindSubmitter:
		if p.User.Username != "" {
			return p.User.Username
		}
		return p.User.ID
	case KindReviewer:
		return "reviewer"
	default:
		return "anonymous"
	}
}

// ParseReviewerToken выделяет код обфускации из токена рецензента.
func ParseReviewerToken(token string) (string, bool) {
	if !strings.HasPrefix(token, ReviewerTokenPrefix) {
		return "", false
	}
	code := strings.TrimPrefix(token, ReviewerTokenPrefix)
	return code, code != ""
}

// submitterMatrix — права отправителя своего исследования.
var submitterMatrix = map[model.StudyStatus]Permission{
	model.StatusProvisional: {View: true, Edit: true, Owner: true},
	model.StatusPrivate:     {View: true, Owner: true},
	model.StatusInReview:    {View: true, Owner: true},
	model.StatusPublic:      {View: true, Owner: true},
	model.StatusDormant:     {},
}

// Resolve вычисляет права субъекта на исследование.
func Resolve(p Principal, study *model.Study) Permission {
	public := Permission{View: study.Status == model.StatusPublic}

	switch p.Kind() {
	case KindCurator:
		return Permission{View: true, Edit: true, Owner: true}
	case KindSubmitter:
		if study.HasSubmitter(p.User.ID) {
			return submitterMatrix[study.Status]
		}
		return public
	case KindReviewer:
		if study.Status != model.StatusDormant && codesEqual(p.ReviewerCode, study.ObfuscationCode) {
			return Permission{View: true}
		}
		return public
	default:
		return public
	}
}

func codesEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
