package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ClassLabel is an ordinal severity stage. Lower values are less severe.
type ClassLabel int

const (
	ClassNormal ClassLabel = iota
	ClassMCI
	ClassMildStage
	ClassModerateStage
)

// NumClasses is the number of severity stages
const NumClasses = 4

// AllClasses lists every stage in severity order
var AllClasses = [NumClasses]ClassLabel{ClassNormal, ClassMCI, ClassMildStage, ClassModerateStage}

var classNames = [NumClasses]string{"Normal", "MCI", "MildStage", "ModerateStage"}

func (c ClassLabel) String() string {
	if !c.Valid() {
		return fmt.Sprintf("ClassLabel(%d)", int(c))
	}
	return classNames[c]
}

// Valid reports whether c is one of the defined stages
func (c ClassLabel) Valid() bool {
	return c >= ClassNormal && c <= ClassModerateStage
}

// Distance is the ordinal distance between two stages
func (c ClassLabel) Distance(other ClassLabel) int {
	d := int(c) - int(other)
	if d < 0 {
		return -d
	}
	return d
}

// Neighbors returns the stages one step away from c in severity order
func (c ClassLabel) Neighbors() []ClassLabel {
	var out []ClassLabel
	if c > ClassNormal {
		out = append(out, c-1)
	}
	if c < ClassModerateStage {
		out = append(out, c+1)
	}
	return out
}

// ParseClassLabel accepts the canonical names case-insensitively plus a few aliases
func ParseClassLabel(s string) (ClassLabel, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	switch key {
	case "normal", "nondemented", "healthy":
		return ClassNormal, nil
	case "mci", "verymilddemented", "verymild":
		return ClassMCI, nil
	case "mildstage", "mild", "milddemented":
		return ClassMildStage, nil
	case "moderatestage", "moderate", "moderatedemented":
		return ClassModerateStage, nil
	}
	return 0, fmt.Errorf("unknown class label %q", s)
}

func (c ClassLabel) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid class label %d", int(c))
	}
	return json.Marshal(c.String())
}

func (c *ClassLabel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClassLabel(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c ClassLabel) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid class label %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *ClassLabel) UnmarshalText(text []byte) error {
	parsed, err := ParseClassLabel(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ProbabilityVector holds one probability per ClassLabel, indexed by the label
type ProbabilityVector [NumClasses]float64

// Sum of all entries
func (p ProbabilityVector) Sum() float64 {
	s := 0.0
	for _, v := range p {
		s += v
	}
	return s
}

// Argmax returns the most probable class. Ties go to the less severe class.
func (p ProbabilityVector) Argmax() ClassLabel {
	best := ClassNormal
	for _, c := range AllClasses {
		if p[c] > p[best] {
			best = c
		}
	}
	return best
}

// Valid checks the distribution invariant within tol
func (p ProbabilityVector) Valid(tol float64) bool {
	for _, v := range p {
		if v < 0 || math.IsNaN(v) {
			return false
		}
	}
	return math.Abs(p.Sum()-1) <= tol
}

func (p ProbabilityVector) MarshalJSON() ([]byte, error) {
	m := make(map[string]float64, NumClasses)
	for _, c := range AllClasses {
		m[c.String()] = p[c]
	}
	return json.Marshal(m)
}

func (p *ProbabilityVector) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	var out ProbabilityVector
	for k, v := range m {
		c, err := ParseClassLabel(k)
		if err != nil {
			return err
		}
		out[c] = v
	}
	*p = out
	return nil
}
