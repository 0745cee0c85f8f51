package catalog

import (
	"fmt"

	"github.com/spf13/viper"
)

type fileDefinition struct {
	Clinics     []string                       `mapstructure:"clinics"`
	DefaultExam string                         `mapstructure:"default_exam"`
	ExamTypes   map[string]map[string][]string `mapstructure:"exam_types"`
}

// Load reads a catalog definition from a YAML, JSON or TOML file. Omitted
// clinics fall back to the built-in clinic set.
func Load(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var raw fileDefinition
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal catalog file: %w", err)
	}

	def := Definition{
		Clinics:     raw.Clinics,
		DefaultExam: raw.DefaultExam,
		ExamTypes:   make(map[string]Template, len(raw.ExamTypes)),
	}
	if len(def.Clinics) == 0 {
		def.Clinics = append([]string(nil), defaultClinics...)
	}
	if def.DefaultExam == "" {
		def.DefaultExam = DefaultExamType
	}
	for name, branches := range raw.ExamTypes {
		tmpl := make(Template, len(branches))
		for gender, clinics := range branches {
			tmpl[Gender(gender)] = clinics
		}
		def.ExamTypes[name] = tmpl
	}
	return New(def)
}
