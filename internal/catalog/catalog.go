// Package catalog holds the closed set of clinics and the exam-type route
// templates. A Catalog is built once at startup and never mutated.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

var (
	ErrInvalidGender  = errors.New("gender must be male or female")
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// ParseGender accepts male or female in any case.
func ParseGender(raw string) (Gender, error) {
	switch Gender(strings.ToLower(strings.TrimSpace(raw))) {
	case Male:
		return Male, nil
	case Female:
		return Female, nil
	default:
		return "", ErrInvalidGender
	}
}

// Template lists the clinics of one exam type per gender. A template may omit
// a gender branch, in which case the male branch is used.
type Template map[Gender][]string

type Definition struct {
	Clinics     []string
	DefaultExam string
	ExamTypes   map[string]Template
}

type Catalog struct {
	clinics     []string
	index       map[string]int
	defaultExam string
	templates   map[string]Template
}

// Selection is the outcome of a template lookup. The fallback flags record
// which substitutions were applied so callers can log them.
type Selection struct {
	ExamType       string
	Gender         Gender
	Clinics        []string
	ExamFallback   bool
	GenderFallback bool
}

func New(def Definition) (*Catalog, error) {
	if len(def.Clinics) == 0 {
		return nil, fmt.Errorf("%w: no clinics", ErrInvalidCatalog)
	}
	c := &Catalog{
		clinics:     make([]string, 0, len(def.Clinics)),
		index:       make(map[string]int, len(def.Clinics)),
		defaultExam: strings.ToLower(strings.TrimSpace(def.DefaultExam)),
		templates:   make(map[string]Template, len(def.ExamTypes)),
	}
	for _, clinic := range def.Clinics {
		clinic = strings.ToLower(strings.TrimSpace(clinic))
		if clinic == "" {
			return nil, fmt.Errorf("%w: empty clinic id", ErrInvalidCatalog)
		}
		if _, ok := c.index[clinic]; ok {
			return nil, fmt.Errorf("%w: duplicate clinic %q", ErrInvalidCatalog, clinic)
		}
		c.index[clinic] = len(c.clinics)
		c.clinics = append(c.clinics, clinic)
	}

	for name, tmpl := range def.ExamTypes {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return nil, fmt.Errorf("%w: empty exam type", ErrInvalidCatalog)
		}
		if _, ok := tmpl[Male]; !ok {
			return nil, fmt.Errorf("%w: exam type %q has no male template", ErrInvalidCatalog, name)
		}
		normalized := make(Template, len(tmpl))
		for gender, clinics := range tmpl {
			if gender != Male && gender != Female {
				return nil, fmt.Errorf("%w: exam type %q has unknown gender %q", ErrInvalidCatalog, name, gender)
			}
			list, err := c.validateRoute(clinics)
			if err != nil {
				return nil, fmt.Errorf("%w: exam type %q (%s): %v", ErrInvalidCatalog, name, gender, err)
			}
			normalized[gender] = list
		}
		c.templates[name] = normalized
	}

	if _, ok := c.templates[c.defaultExam]; !ok {
		return nil, fmt.Errorf("%w: default exam type %q is not defined", ErrInvalidCatalog, c.defaultExam)
	}
	return c, nil
}

func (c *Catalog) validateRoute(clinics []string) ([]string, error) {
	if len(clinics) == 0 {
		return nil, errors.New("template is empty")
	}
	seen := make(map[string]struct{}, len(clinics))
	out := make([]string, 0, len(clinics))
	for _, clinic := range clinics {
		clinic = strings.ToLower(strings.TrimSpace(clinic))
		if _, ok := c.index[clinic]; !ok {
			return nil, fmt.Errorf("unknown clinic %q", clinic)
		}
		if _, ok := seen[clinic]; ok {
			return nil, fmt.Errorf("duplicate clinic %q", clinic)
		}
		seen[clinic] = struct{}{}
		out = append(out, clinic)
	}
	return out, nil
}

// Clinics returns every clinic in catalog order.
func (c *Catalog) Clinics() []string {
	out := make([]string, len(c.clinics))
	copy(out, c.clinics)
	return out
}

func (c *Catalog) IsClinic(id string) bool {
	_, ok := c.index[id]
	return ok
}

func (c *Catalog) DefaultExam() string {
	return c.defaultExam
}

func (c *Catalog) ExamTypes() []string {
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select resolves the template for an exam type and gender. Unknown or empty
// exam types resolve to the default exam type.
func (c *Catalog) Select(examType string, gender Gender) (Selection, error) {
	if gender != Male && gender != Female {
		return Selection{}, ErrInvalidGender
	}
	sel := Selection{ExamType: strings.ToLower(strings.TrimSpace(examType)), Gender: gender}
	tmpl, ok := c.templates[sel.ExamType]
	if !ok {
		sel.ExamFallback = sel.ExamType != ""
		sel.ExamType = c.defaultExam
		tmpl = c.templates[c.defaultExam]
	}
	clinics, ok := tmpl[gender]
	if !ok {
		sel.GenderFallback = true
		clinics = tmpl[Male]
	}
	sel.Clinics = make([]string, len(clinics))
	copy(sel.Clinics, clinics)
	return sel, nil
}
