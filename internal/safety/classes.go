package safety

import "strings"

// drugClasses maps a class keyword to member medications. Matching against a
// class keyword flags every member. The table is deliberately permissive:
// a false positive costs a pharmacist a second look, a false negative costs
// a patient.
var drugClasses = map[string][]string{
	"penicillin": {
		"penicillin", "amoxicillin", "ampicillin", "dicloxacillin",
		"piperacillin", "amoxicillin-clavulanate", "augmentin",
	},
	"cephalosporin": {
		"cephalexin", "cefuroxime", "ceftriaxone", "cefdinir", "cefazolin",
	},
	"sulfonamide": {
		"sulfamethoxazole", "trimethoprim-sulfamethoxazole", "bactrim",
		"sulfasalazine", "sulfadiazine",
	},
	"sulfa": {
		"sulfamethoxazole", "trimethoprim-sulfamethoxazole", "bactrim",
		"sulfasalazine", "sulfadiazine",
	},
	"nsaid": {
		"ibuprofen", "naproxen", "aspirin", "diclofenac", "ketorolac",
		"indomethacin", "meloxicam", "celecoxib",
	},
	"statin": {
		"atorvastatin", "simvastatin", "rosuvastatin", "pravastatin",
		"lovastatin",
	},
	"ace inhibitor": {
		"lisinopril", "enalapril", "ramipril", "captopril", "benazepril",
	},
	"opioid": {
		"oxycodone", "hydrocodone", "morphine", "codeine", "tramadol",
		"fentanyl", "hydromorphone",
	},
	"fluoroquinolone": {
		"ciprofloxacin", "levofloxacin", "moxifloxacin", "ofloxacin",
	},
	"macrolide": {
		"azithromycin", "erythromycin", "clarithromycin",
	},
}

// matchesSubstance reports whether a medication matches a substance name
// (allergen or contraindicated substance): case-insensitive substring in
// either direction, then class-keyword expansion.
func matchesSubstance(medication, substance string) bool {
	med := strings.ToLower(strings.TrimSpace(medication))
	sub := strings.ToLower(strings.TrimSpace(substance))
	if med == "" || sub == "" {
		return false
	}
	if strings.Contains(med, sub) || strings.Contains(sub, med) {
		return true
	}
	for class, members := range drugClasses {
		if !strings.Contains(sub, class) {
			continue
		}
		for _, member := range members {
			if strings.Contains(med, member) {
				return true
			}
		}
	}
	return false
}
