package policy

import (
	"embed"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
)

//go:embed data/*.yaml
var embedded embed.FS

// yearPattern is the assessment year format, e.g. 2025-26.
var yearPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// ValidYear reports whether s is a well-formed assessment year.
func ValidYear(s string) bool {
	return yearPattern.MatchString(s)
}

const (
	defaultConfidenceFloor   = 0.5
	defaultHardCapMultiplier = 10
)

// Parse decodes a policy document and applies defaults.
func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "policy: parse")
	}

	if p.Defaults.ConfidenceFloor == 0 {
		p.Defaults.ConfidenceFloor = defaultConfidenceFloor
	}
	if p.Defaults.HardCapMultiplier == 0 {
		p.Defaults.HardCapMultiplier = defaultHardCapMultiplier
	}

	// Apply defaults to classes missing floor/cap/aggregation, and keep
	// USER_EDIT at the head of every priority list.
	for name, fc := range p.FieldClasses {
		if fc.ConfidenceFloor == 0 {
			fc.ConfidenceFloor = p.Defaults.ConfidenceFloor
		}
		if fc.HardCap == 0 {
			fc.HardCap = fc.Threshold * money.Amount(p.Defaults.HardCapMultiplier)
		}
		if fc.Aggregation == "" {
			fc.Aggregation = AggregateLatest
		}
		if len(fc.Priority) == 0 || fc.Priority[0] != model.SourceUserEdit {
			pr := []model.SourceKind{model.SourceUserEdit}
			for _, k := range fc.Priority {
				if k != model.SourceUserEdit {
					pr = append(pr, k)
				}
			}
			fc.Priority = pr
		}
		p.FieldClasses[name] = fc
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads a policy file from disk.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "policy: read %s", path)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "policy: load %s", path)
	}
	return p, nil
}

// Embedded returns the built-in policy for an assessment year.
func Embedded(assessmentYear string) (*Policy, error) {
	if !ValidYear(assessmentYear) {
		return nil, eris.Errorf("policy: malformed assessment year %q", assessmentYear)
	}
	data, err := embedded.ReadFile("data/" + assessmentYear + ".yaml")
	if err != nil {
		return nil, eris.Wrapf(model.ErrNotFound, "policy: no built-in tables for %s", assessmentYear)
	}
	return Parse(data)
}

// EmbeddedYears lists assessment years with built-in tables.
func EmbeddedYears() []string {
	entries, err := embedded.ReadDir("data")
	if err != nil {
		return nil
	}
	var years []string
	for _, e := range entries {
		years = append(years, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(years)
	return years
}

// Validate checks structural consistency of the tables.
func (p *Policy) Validate() error {
	if p.AssessmentYear == "" {
		return eris.New("policy: assessment_year is required")
	}
	if p.Version == "" {
		return eris.New("policy: version is required")
	}
	for name, fc := range p.FieldClasses {
		if fc.Aggregation != AggregateLatest && fc.Aggregation != AggregateSum {
			return eris.Errorf("policy: class %s: unknown aggregation %q", name, fc.Aggregation)
		}
		if fc.Threshold < 0 || fc.HardCap < fc.Threshold {
			return eris.Errorf("policy: class %s: hard cap %d below threshold %d", name, fc.HardCap, fc.Threshold)
		}
		if fc.ConfidenceFloor < 0 || fc.ConfidenceFloor > 1 {
			return eris.Errorf("policy: class %s: confidence floor %v out of range", name, fc.ConfidenceFloor)
		}
		for _, k := range fc.Priority {
			if !k.Valid() {
				return eris.Errorf("policy: class %s: unknown source %q", name, k)
			}
		}
	}
	for name, f := range p.Fields {
		if _, ok := p.FieldClasses[f.Class]; !ok {
			return eris.Errorf("policy: field %s: unknown class %q", name, f.Class)
		}
		if f.Head == "" {
			return eris.Errorf("policy: field %s: head is required", name)
		}
	}
	for _, r := range []model.Regime{model.RegimeOld, model.RegimeNew} {
		rg, ok := p.Regimes[r]
		if !ok {
			return eris.Errorf("policy: regime %s missing", r)
		}
		if err := validateSlabs(rg.Slabs); err != nil {
			return eris.Wrapf(err, "policy: regime %s", r)
		}
		for _, b := range rg.AgeBands {
			if err := validateSlabs(b.Slabs); err != nil {
				return eris.Wrapf(err, "policy: regime %s age %d", r, b.MinAge)
			}
		}
		for field := range rg.Deductions {
			if _, ok := p.Fields[field]; !ok {
				return eris.Errorf("policy: regime %s: deduction for unknown field %q", r, field)
			}
		}
		for field, limit := range rg.DeductionLimitedBy {
			if _, ok := p.Fields[limit]; !ok {
				return eris.Errorf("policy: regime %s: deduction %s limited by unknown field %q", r, field, limit)
			}
		}
	}
	if p.RoundTotalTo < 0 || p.Interest.RoundBaseTo < 0 {
		return eris.New("policy: rounding must not be negative")
	}
	return nil
}

func validateSlabs(slabs []Slab) error {
	if len(slabs) == 0 {
		return eris.New("no slabs")
	}
	for i, s := range slabs {
		last := i == len(slabs)-1
		switch {
		case s.UpTo == 0 && !last:
			return eris.Errorf("unbounded slab at position %d is not last", i)
		case s.UpTo != 0 && last:
			return eris.New("last slab must be unbounded")
		case i > 0 && s.UpTo != 0 && s.UpTo <= slabs[i-1].UpTo:
			return eris.Errorf("slab bounds not increasing at position %d", i)
		}
	}
	return nil
}

// Provider loads policies once per assessment year and caches them. An
// empty dir serves only the built-in tables.
type Provider struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*Policy
}

// NewProvider creates a Provider reading <dir>/<assessment year>.yaml.
func NewProvider(dir string) *Provider {
	return &Provider{dir: dir, cache: make(map[string]*Policy)}
}

// For returns the policy for an assessment year.
func (pr *Provider) For(assessmentYear string) (*Policy, error) {
	pr.mu.RLock()
	p, ok := pr.cache[assessmentYear]
	pr.mu.RUnlock()
	if ok {
		return p, nil
	}

	if !ValidYear(assessmentYear) {
		return nil, eris.Errorf("policy: malformed assessment year %q", assessmentYear)
	}

	var err error
	if pr.dir != "" {
		path := filepath.Join(pr.dir, assessmentYear+".yaml")
		if _, statErr := os.Stat(path); statErr == nil {
			p, err = Load(path)
		} else {
			p, err = Embedded(assessmentYear)
		}
	} else {
		p, err = Embedded(assessmentYear)
	}
	if err != nil {
		return nil, err
	}

	pr.mu.Lock()
	pr.cache[assessmentYear] = p
	pr.mu.Unlock()
	return p, nil
}
