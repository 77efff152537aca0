package fixtures

import "github.com/cdss-mcp-server/internal/domain"

// Corpus is a small interaction corpus in the shape of the public DDI
// datasets. It deliberately contains a reversed duplicate and a self-pair.
func Corpus() []domain.InteractionRecord {
	return []domain.InteractionRecord{
		{"Warfarin", "Aspirin", "Concurrent use is dangerous: bleeding risk is markedly increased."},
		{"Aspirin", "Warfarin", "The risk or severity of bleeding can be increased."},
		{"Warfarin", "Ibuprofen", "Avoid combination; NSAIDs raise the anticoagulant effect of warfarin."},
		{"Simvastatin", "Clarithromycin", "Contraindicated: strong CYP3A4 inhibition raises statin exposure."},
		{"Sildenafil", "Nitroglycerin", "Contraindicated due to profound hypotension."},
		{"Lisinopril", "Spironolactone", "May increase serum potassium; monitor electrolytes."},
		{"Metformin", "Contrast Agent", "Monitor renal function around iodinated contrast."},
		{"Sertraline", "Tramadol", "Tramadol can enhance serotonergic effects of sertraline."},
		{"Levothyroxine", "Omeprazole", "Omeprazole can decrease the absorption of levothyroxine."},
		{"Amlodipine", "Atorvastatin", "Amlodipine may raise atorvastatin levels slightly."},
		{"Digoxin", "Amiodarone", "Amiodarone can increase digoxin serum concentration."},
		{"Metformin", "Metformin", "Self pair ignored."},
		{"Acetaminophen", "Alcohol", "Chronic alcohol use is associated with hepatotoxicity; caution."},
		{"Clopidogrel", "Omeprazole", "Omeprazole reduces the antiplatelet activity of clopidogrel."},
		{"Prednisone", "Ibuprofen", "Combined use raises gastrointestinal ulcer risk; major concern."},
		{"Insulin", "Propranolol", "Propranolol may mask hypoglycaemia; potentiate insulin effect."},
	}
}

// Aliases maps brand names onto generic corpus names.
func Aliases() map[string]string {
	return map[string]string{
		"coumadin":   "warfarin",
		"jantoven":   "warfarin",
		"advil":      "ibuprofen",
		"motrin":     "ibuprofen",
		"tylenol":    "acetaminophen",
		"zocor":      "simvastatin",
		"viagra":     "sildenafil",
		"prilosec":   "omeprazole",
		"lipitor":    "atorvastatin",
		"norvasc":    "amlodipine",
		"zoloft":     "sertraline",
		"glucophage": "metformin",
		"synthroid":  "levothyroxine",
		"plavix":     "clopidogrel",
		"lanoxin":    "digoxin",
	}
}
