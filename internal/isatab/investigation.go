package isatab

import (
	"strings"
)

// OntologyAnnotation — термин онтологии.
type OntologyAnnotation struct {
	Term      string `json:"term"`
	Accession string `json:"accession"`
	Source    string `json:"source"`
}

// OntologySource — ссылка на источник терминов.
type OntologySource struct {
	Name        string `json:"name"`
	File        string `json:"file"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// Publication — публикация.
type Publication struct {
	PubMedID   string             `json:"pubmed_id"`
	DOI        string             `json:"doi"`
	AuthorList string             `json:"author_list"`
	Title      string             `json:"title"`
	Status     OntologyAnnotation `json:"status"`
}

// Person — контактное лицо.
type Person struct {
	LastName    string             `json:"last_name"`
	FirstName   string             `json:"first_name"`
	MidInitials string             `json:"mid_initials"`
	Email       string             `json:"email"`
	Phone       string             `json:"phone"`
	Fax         string             `json:"fax"`
	Address     string             `json:"address"`
	Affiliation string             `json:"affiliation"`
	Roles       OntologyAnnotation `json:"roles"`
}

// Factor — экспериментальный фактор.
type Factor struct {
	Name string             `json:"name"`
	Type OntologyAnnotation `json:"type"`
}

// Assay — ссылка исследования на assay-файл.
type Assay struct {
	FileName        string             `json:"filename"`
	MeasurementType OntologyAnnotation `json:"measurement_type"`
	TechnologyType  OntologyAnnotation `json:"technology_type"`
	Platform        string             `json:"platform"`
}

// Protocol — протокол исследования.
type Protocol struct {
	Name        string             `json:"name"`
	Type        OntologyAnnotation `json:"type"`
	Description string             `json:"description"`
	URI         string             `json:"uri"`
	Version     string             `json:"version"`
	// Parameters — имена параметров через ';' (как в файле)
	Parameters           string `json:"parameters"`
	ParametersAccession  string `json:"parameters_accession"`
	ParametersSource     string `json:"parameters_source"`
	ComponentsName       string `json:"components_name"`
	ComponentsType       string `json:"components_type"`
	ComponentsAccession  string `json:"components_accession"`
	ComponentsTypeSource string `json:"components_type_source"`
}

// ParameterNames возвращает непустые имена параметров.
func (p Protocol) ParameterNames() []string {
	var out []string
	for _, n := range strings.Split(p.Parameters, ";") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Study — исследование внутри investigation.
type Study struct {
	Identifier        string               `json:"identifier"`
	Title             string               `json:"title"`
	Description       string               `json:"description"`
	SubmissionDate    string               `json:"submission_date"`
	PublicReleaseDate string               `json:"public_release_date"`
	FileName          string               `json:"filename"`
	DesignDescriptors []OntologyAnnotation `json:"design_descriptors"`
	Publications      []Publication        `json:"publications"`
	Factors           []Factor             `json:"factors"`
	Assays            []Assay              `json:"assays"`
	Protocols         []Protocol           `json:"protocols"`
	Contacts          []Person             `json:"contacts"`
}

// Investigation — типизированное представление investigation-файла.
type Investigation struct {
	Identifier        string           `json:"identifier"`
	Title             string           `json:"title"`
	Description       string           `json:"description"`
	SubmissionDate    string           `json:"submission_date"`
	PublicReleaseDate string           `json:"public_release_date"`
	OntologySources   []OntologySource `json:"ontology_sources"`
	Publications      []Publication    `json:"publications"`
	Contacts          []Person         `json:"contacts"`
	Studies           []*Study         `json:"studies"`

	doc *Document
}

// Study возвращает первое исследование или nil.
func (inv *Investigation) Study() *Study {
	if len(inv.Studies) == 0 {
		return nil
	}
	return inv.Studies[0]
}

// Document возвращает сырое представление с наложенными типизированными полями.
func (inv *Investigation) Document() *Document {
	if inv.doc == nil {
		inv.doc = &Document{}
	}
	inv.apply(inv.doc)
	return inv.doc
}

// FromDocument строит типизированную модель из сырого документа.
func FromDocument(doc *Document) *Investigation {
	inv := &Investigation{doc: doc}

	if s := doc.Section(SectionOntologySources, -1); s != nil {
		n := s.Width("Term Source Name", "Term Source File", "Term Source Version", "Term Source Description")
		for i := 0; i < n; i++ {
			inv.OntologySources = append(inv.OntologySources, OntologySource{
				Name:        s.Value("Term Source Name", i),
				File:        s.Value("Term Source File", i),
				Version:     s.Value("Term Source Version", i),
				Description: s.Value("Term Source Description", i),
			})
		}
	}

	if s := doc.Section(SectionInvestigation, -1); s != nil {
		inv.Identifier = s.Value("Investigation Identifier", 0)
		inv.Title = s.Value("Investigation Title", 0)
		inv.Description = s.Value("Investigation Description", 0)
		inv.SubmissionDate = s.Value("Investigation Submission Date", 0)
		inv.PublicReleaseDate = s.Value("Investigation Public Release Date", 0)
	}
	if s := doc.Section(SectionInvPublications, -1); s != nil {
		inv.Publications = readPublications(s, "Investigation")
	}
	if s := doc.Section(SectionInvContacts, -1); s != nil {
		inv.Contacts = readContacts(s, "Investigation")
	}

	for i := 0; i < doc.StudyCount(); i++ {
		inv.Studies = append(inv.Studies, readStudy(doc, i))
	}
	return inv
}

func readStudy(doc *Document, idx int) *Study {
	st := &Study{}
	if s := doc.Section(SectionStudy, idx); s != nil {
		st.Identifier = s.Value("Study Identifier", 0)
		st.Title = s.Value("Study Title", 0)
		st.Description = s.Value("Study Description", 0)
		st.SubmissionDate = s.Value("Study Submission Date", 0)
		st.PublicReleaseDate = s.Value("Study Public Release Date", 0)
		st.FileName = s.Value("Study File Name", 0)
	}
	if s := doc.Section(SectionDesignDescriptors, idx); s != nil {
		st.DesignDescriptors = readAnnotations(s, "Study Design Type")
	}
	if s := doc.Section(SectionStudyPublications, idx); s != nil {
		st.Publications = readPublications(s, "Study")
	}
	if s := doc.Section(SectionFactors, idx); s != nil {
		n := s.Width("Study Factor Name", "Study Factor Type")
		for i := 0; i < n; i++ {
			st.Factors = append(st.Factors, Factor{
				Name: s.Value("Study Factor Name", i),
				Type: annotationAt(s, "Study Factor Type", i),
			})
		}
	}
	if s := doc.Section(SectionAssays, idx); s != nil {
		n := s.Width("Study Assay File Name", "Study Assay Measurement Type", "Study Assay Technology Type")
		for i := 0; i < n; i++ {
			st.Assays = append(st.Assays, Assay{
				FileName:        s.Value("Study Assay File Name", i),
				MeasurementType: annotationAt(s, "Study Assay Measurement Type", i),
				TechnologyType:  annotationAt(s, "Study Assay Technology Type", i),
				Platform:        s.Value("Study Assay Technology Platform", i),
			})
		}
	}
	if s := doc.Section(SectionProtocols, idx); s != nil {
		n := s.Width("Study Protocol Name", "Study Protocol Type", "Study Protocol Description")
		for i := 0; i < n; i++ {
			st.Protocols = append(st.Protocols, Protocol{
				Name:                 s.Value("Study Protocol Name", i),
				Type:                 annotationAt(s, "Study Protocol Type", i),
				Description:          s.Value("Study Protocol Description", i),
				URI:                  s.Value("Study Protocol URI", i),
				Version:              s.Value("Study Protocol Version", i),
				Parameters:           s.Value("Study Protocol Parameters Name", i),
				ParametersAccession:  s.Value("Study Protocol Parameters Name Term Accession Number", i),
				ParametersSource:     s.Value("Study Protocol Parameters Name Term Source REF", i),
				ComponentsName:       s.Value("Study Protocol Components Name", i),
				ComponentsType:       s.Value("Study Protocol Components Type", i),
				ComponentsAccession:  s.Value("Study Protocol Components Type Term Accession Number", i),
				ComponentsTypeSource: s.Value("Study Protocol Components Type Term Source REF", i),
			})
		}
	}
	if s := doc.Section(SectionStudyContacts, idx); s != nil {
		st.Contacts = readContacts(s, "Study")
	}
	return st
}

func annotationAt(s *Section, key string, i int) OntologyAnnotation {
	return OntologyAnnotation{
		Term:      s.Value(key, i),
		Accession: s.Value(key+" Term Accession Number", i),
		Source:    s.Value(key+" Term Source REF", i),
	}
}

func readAnnotations(s *Section, key string) []OntologyAnnotation {
	n := s.Width(key, key+" Term Accession Number", key+" Term Source REF")
	out := make([]OntologyAnnotation, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, annotationAt(s, key, i))
	}
	return out
}

func readPublications(s *Section, prefix string) []Publication {
	n := s.Width(prefix+" PubMed ID", prefix+" Publication DOI", prefix+" Publication Author List",
		prefix+" Publication Title", prefix+" Publication Status")
	out := make([]Publication, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Publication{
			PubMedID:   s.Value(prefix+" PubMed ID", i),
			DOI:        s.Value(prefix+" Publication DOI", i),
			AuthorList: s.Value(prefix+" Publication Author List", i),
			Title:      s.Value(prefix+" Publication Title", i),
			Status:     annotationAt(s, prefix+" Publication Status", i),
		})
	}
	return out
}

func readContacts(s *Section, prefix string) []Person {
	p := prefix + " Person "
	n := s.Width(p+"Last Name", p+"First Name", p+"Email", p+"Affiliation")
	out := make([]Person, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Person{
			LastName:    s.Value(p+"Last Name", i),
			FirstName:   s.Value(p+"First Name", i),
			MidInitials: s.Value(p+"Mid Initials", i),
			Email:       s.Value(p+"Email", i),
			Phone:       s.Value(p+"Phone", i),
			Fax:         s.Value(p+"Fax", i),
			Address:     s.Value(p+"Address", i),
			Affiliation: s.Value(p+"Affiliation", i),
			Roles:       annotationAt(s, p+"Roles", i),
		})
	}
	return out
}

// --- Наложение типизированных полей на документ ---

func (inv *Investigation) apply(doc *Document) {
	s := doc.ensureSection(SectionOntologySources, -1)
	setColumn(s, "Term Source Name", len(inv.OntologySources), func(i int) string { return inv.OntologySources[i].Name })
	setColumn(s, "Term Source File", len(inv.OntologySources), func(i int) string { return inv.OntologySources[i].File })
	setColumn(s, "Term Source Version", len(inv.OntologySources), func(i int) string { return inv.OntologySources[i].Version })
	setColumn(s, "Term Source Description", len(inv.OntologySources), func(i int) string { return inv.OntologySources[i].Description })

	s = doc.ensureSection(SectionInvestigation, -1)
	s.Set("Investigation Identifier", single(inv.Identifier))
	s.Set("Investigation Title", single(inv.Title))
	s.Set("Investigation Description", single(inv.Description))
	s.Set("Investigation Submission Date", single(inv.SubmissionDate))
	s.Set("Investigation Public Release Date", single(inv.PublicReleaseDate))

	writePublications(doc.ensureSection(SectionInvPublications, -1), "Investigation", inv.Publications)
	writeContacts(doc.ensureSection(SectionInvContacts, -1), "Investigation", inv.Contacts)

	doc.removeStudiesFrom(len(inv.Studies))
	for idx, st := range inv.Studies {
		applyStudy(doc, idx, st)
	}
}

func applyStudy(doc *Document, idx int, st *Study) {
	s := doc.ensureSection(SectionStudy, idx)
	s.Set("Study Identifier", single(st.Identifier))
	s.Set("Study Title", single(st.Title))
	s.Set("Study Description", single(st.Description))
	s.Set("Study Submission Date", single(st.SubmissionDate))
	s.Set("Study Public Release Date", single(st.PublicReleaseDate))
	s.Set("Study File Name", single(st.FileName))

	s = doc.ensureSection(SectionDesignDescriptors, idx)
	setAnnotations(s, "Study Design Type", st.DesignDescriptors)

	writePublications(doc.ensureSection(SectionStudyPublications, idx), "Study", st.Publications)

	s = doc.ensureSection(SectionFactors, idx)
	setColumn(s, "Study Factor Name", len(st.Factors), func(i int) string { return st.Factors[i].Name })
	factorTypes := make([]OntologyAnnotation, len(st.Factors))
	for i, f := range st.Factors {
		factorTypes[i] = f.Type
	}
	setAnnotations(s, "Study Factor Type", factorTypes)

	s = doc.ensureSection(SectionAssays, idx)
	n := len(st.Assays)
	measurement := make([]OntologyAnnotation, n)
	technology := make([]OntologyAnnotation, n)
	for i, a := range st.Assays {
		measurement[i] = a.MeasurementType
		technology[i] = a.TechnologyType
	}
	setColumn(s, "Study Assay File Name", n, func(i int) string { return st.Assays[i].FileName })
	setAnnotations(s, "Study Assay Measurement Type", measurement)
	setAnnotations(s, "Study Assay Technology Type", technology)
	setColumn(s, "Study Assay Technology Platform", n, func(i int) string { return st.Assays[i].Platform })

	s = doc.ensureSection(SectionProtocols, idx)
	n = len(st.Protocols)
	types := make([]OntologyAnnotation, n)
	for i, p := range st.Protocols {
		types[i] = p.Type
	}
	setColumn(s, "Study Protocol Name", n, func(i int) string { return st.Protocols[i].Name })
	setAnnotations(s, "Study Protocol Type", types)
	setColumn(s, "Study Protocol Description", n, func(i int) string { return st.Protocols[i].Description })
	setColumn(s, "Study Protocol URI", n, func(i int) string { return st.Protocols[i].URI })
	setColumn(s, "Study Protocol Version", n, func(i int) string { return st.Protocols[i].Version })
	setColumn(s, "Study Protocol Parameters Name", n, func(i int) string { return st.Protocols[i].Parameters })
	setColumn(s, "Study Protocol Parameters Name Term Accession Number", n, func(i int) string { return st.Protocols[i].ParametersAccession })
	setColumn(s, "Study Protocol Parameters Name Term Source REF", n, func(i int) string { return st.Protocols[i].ParametersSource })
	setColumn(s, "Study Protocol Components Name", n, func(i int) string { return st.Protocols[i].ComponentsName })
	setColumn(s, "Study Protocol Components Type", n, func(i int) string { return st.Protocols[i].ComponentsType })
	setColumn(s, "Study Protocol Components Type Term Accession Number", n, func(i int) string { return st.Protocols[i].ComponentsAccession })
	setColumn(s, "Study Protocol Components Type Term Source REF", n, func(i int) string { return st.Protocols[i].ComponentsTypeSource })

	writeContacts(doc.ensureSection(SectionStudyContacts, idx), "Study", st.Contacts)
}

func writePublications(s *Section, prefix string, pubs []Publication) {
	n := len(pubs)
	status := make([]OntologyAnnotation, n)
	for i, p := range pubs {
		status[i] = p.Status
	}
	setColumn(s, prefix+" PubMed ID", n, func(i int) string { return pubs[i].PubMedID })
	setColumn(s, prefix+" Publication DOI", n, func(i int) string { return pubs[i].DOI })
	setColumn(s, prefix+" Publication Author List", n, func(i int) string { return pubs[i].AuthorList })
	setColumn(s, prefix+" Publication Title", n, func(i int) string { return pubs[i].Title })
	setAnnotations(s, prefix+" Publication Status", status)
}

func writeContacts(s *Section, prefix string, people []Person) {
	p := prefix + " Person "
	n := len(people)
	roles := make([]OntologyAnnotation, n)
	for i, person := range people {
		roles[i] = person.Roles
	}
	setColumn(s, p+"Last Name", n, func(i int) string { return people[i].LastName })
	setColumn(s, p+"First Name", n, func(i int) string { return people[i].FirstName })
	setColumn(s, p+"Mid Initials", n, func(i int) string { return people[i].MidInitials })
	setColumn(s, p+"Email", n, func(i int) string { return people[i].Email })
	setColumn(s, p+"Phone", n, func(i int) string { return people[i].Phone })
	setColumn(s, p+"Fax", n, func(i int) string { return people[i].Fax })
	setColumn(s, p+"Address", n, func(i int) string { return people[i].Address })
	setColumn(s, p+"Affiliation", n, func(i int) string { return people[i].Affiliation })
	setAnnotations(s, p+"Roles", roles)
}

func setAnnotations(s *Section, key string, items []OntologyAnnotation) {
	n := len(items)
	setColumn(s, key, n, func(i int) string { return items[i].Term })
	setColumn(s, key+" Term Accession Number", n, func(i int) string { return items[i].Accession })
	setColumn(s, key+" Term Source REF", n, func(i int) string { return items[i].Source })
}

func setColumn(s *Section, key string, n int, get func(int) string) {
	vals := make([]string, n)
	for i := 0; i < n; i++ {
		vals[i] = get(i)
	}
	s.Set(key, vals)
}

func single(v string) []string {
	return []string{v}
}
