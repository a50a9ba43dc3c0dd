package pipeline

import _ "embed"

var (
	//go:embed templates/mzML1.1.0.xsd
	defaultMzMLSchema []byte

	//go:embed templates/metabolon_investigation.txt
	defaultInvestigationTemplate []byte

	//go:embed templates/m_template_v2_maf.tsv
	defaultAnnotationTemplate []byte
)
