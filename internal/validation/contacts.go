package validation

import (
	"maps"
	"slices"
	"strings"
)

// checkPublications — публикации исследования.
func checkPublications(sc *studyContext) *collector {
	c := newCollector(SectionPublication)
	if sc.study == nil {
		return c
	}
	file := sc.bundle.InvestigationFile

	if len(sc.study.Publications) == 0 {
		c.add("1", StatusWarning, file, "", "Не указано ни одной публикации")
		return c
	}
	c.success("1", file, "Указано публикаций: %d", len(sc.study.Publications))

	for _, p := range sc.study.Publications {
		r := sc.schema.Rule(SectionPublication, "title")
		c.rule("2", r, r.Check(p.Title, nil), file, p.Title, "Название публикации: %s", r.Describe())

		r = sc.schema.Rule(SectionPublication, "pubmed_id")
		c.rule("3", r, r.Check(p.PubMedID, nil), file, p.PubMedID,
			"PubMed ID: пусто, none или число из цифр")

		doi := strings.TrimSpace(p.DOI)
		if doi == "" {
			c.add("7", StatusWarning, file, "", "DOI публикации не указан")
		} else {
			r = sc.schema.Rule(SectionPublication, "doi")
			c.rule("4", r, r.Check(doi, nil), file, doi, "DOI без префикса http и doi.org")
		}

		r = sc.schema.Rule(SectionPublication, "author_list")
		c.rule("5", r, r.Check(p.AuthorList, nil), file, "", "Список авторов публикации указан")

		r = sc.schema.Rule(SectionPublication, "status")
		c.rule("6", r, r.Check(p.Status.Term, nil), file, p.Status.Term, "Статус публикации указан")
	}
	return c
}

// checkPersons — контакты исследования.
func checkPersons(sc *studyContext) *collector {
	c := newCollector(SectionPerson)
	if sc.study == nil {
		return c
	}
	file := sc.bundle.InvestigationFile

	if len(sc.study.Contacts) == 0 {
		c.add("1", StatusError, file, "", "Не указано ни одного контакта")
		return c
	}
	c.success("1", file, "Указано контактов: %d", len(sc.study.Contacts))

	blacklist := sc.schema.Rule(SectionPerson, "name_blacklist")
	for _, p := range sc.study.Contacts {
		r := sc.schema.Rule(SectionPerson, "last_name")
		c.rule("2", r, r.Check(p.LastName, nil), file, p.LastName, "Фамилия контакта: %s", r.Describe())
		c.rule("2.1", blacklist, blacklist.Check(p.LastName, nil), file, p.LastName, "Фамилия контакта не из списка заглушек")

		r = sc.schema.Rule(SectionPerson, "first_name")
		c.rule("3", r, r.Check(p.FirstName, nil), file, p.FirstName, "Имя контакта: %s", r.Describe())
		c.rule("3.1", blacklist, blacklist.Check(p.FirstName, nil), file, p.FirstName, "Имя контакта не из списка заглушек")

		r = sc.schema.Rule(SectionPerson, "email")
		c.rule("4", r, r.Check(p.Email, nil), file, p.Email, "Email контакта: %s", r.Describe())

		r = sc.schema.Rule(SectionPerson, "affiliation")
		c.rule("5", r, r.Check(p.Affiliation, nil), file, p.Affiliation, "Организация контакта: %s", r.Describe())
	}
	return c
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
