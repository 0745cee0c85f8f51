package catalog

const (
	Lab        = "lab"
	XRay       = "xray"
	Vitals     = "vitals"
	ECG        = "ecg"
	Audio      = "audio"
	Eyes       = "eyes"
	Internal   = "internal"
	ENT        = "ent"
	Surgery    = "surgery"
	Dental     = "dental"
	Psychiatry = "psychiatry"
	Derma      = "derma"
	Bones      = "bones"
)

const DefaultExamType = "recruitment"

var defaultClinics = []string{Lab, XRay, Vitals, ECG, Audio, Eyes, Internal, ENT, Surgery, Dental, Psychiatry, Derma, Bones}

var (
	generalMale   = []string{Lab, Vitals, Eyes, Internal, Surgery, Bones, ENT, Psychiatry, Dental}
	generalFemale = []string{Lab, Vitals, ENT, Surgery, Bones, Psychiatry, Dental, Internal, Eyes, Derma}
)

// DefaultDefinition is the clinic set and exam templates used by the deployed
// examination center.
func DefaultDefinition() Definition {
	return Definition{
		Clinics:     append([]string(nil), defaultClinics...),
		DefaultExam: DefaultExamType,
		ExamTypes: map[string]Template{
			"recruitment": both(defaultClinics...),
			"courses": {
				Male:   {Lab, Vitals, Eyes, Internal, Surgery, Bones, ENT},
				Female: generalFemale,
			},
			"promotion": {Male: generalMale, Female: generalFemale},
			"transfer":  {Male: generalMale, Female: generalFemale},
			"referral":  {Male: generalMale, Female: generalFemale},
			"contract":  {Male: generalMale, Female: generalFemale},
			"aviation": {
				Male:   {Lab, Eyes, Internal, ENT, ECG, Audio},
				Female: {Lab, ENT, Surgery, Bones, Psychiatry, Dental, Internal, Eyes, Derma},
			},
			"cooks": {
				Male:   {Lab, Internal, ENT, Surgery},
				Female: generalFemale,
			},
			"drivers":     both(Vitals, Eyes, Audio, Internal, Psychiatry),
			"periodic":    both(Vitals, Lab, XRay, ECG, Internal),
			"specialized": both(Vitals, Lab, Internal),
		},
	}
}

func both(clinics ...string) Template {
	return Template{Male: clinics, Female: clinics}
}

// Default builds the catalog from DefaultDefinition.
func Default() *Catalog {
	c, err := New(DefaultDefinition())
	if err != nil {
		panic(err)
	}
	return c
}
