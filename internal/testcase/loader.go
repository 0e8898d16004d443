package testcase

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads and validates a test suite from a YAML file.
func LoadFromFile(path string) (*TestSuite, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("testcase: read %q: %w", path, err)
	}

	var s TestSuite
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("testcase: parse %q: %w", path, err)
	}
	if err := Validate(&s); err != nil {
		return nil, fmt.Errorf("testcase: validate %q: %w", path, err)
	}

	return &s, nil
}

// LoadFromDir loads and validates all test suites from a directory.
func LoadFromDir(dir string) ([]*TestSuite, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("testcase: read dir %q: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	out := make([]*TestSuite, 0, len(paths))
	for _, path := range paths {
		s, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Validate checks a test suite for consistency.
func Validate(suite *TestSuite) error {
	if suite == nil {
		return fmt.Errorf("nil suite")
	}
	if strings.TrimSpace(suite.Suite) == "" {
		return fmt.Errorf("suite: missing suite name")
	}
	if strings.TrimSpace(suite.Agent.SystemPrompt) == "" {
		return fmt.Errorf("suite: missing agent system_prompt")
	}
	if len(suite.Cases) == 0 {
		return fmt.Errorf("suite: no cases")
	}

	personaNames := make(map[string]struct{}, len(suite.Personas))
	for i, p := range suite.Personas {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("personas[%d]: missing name", i)
		}
		if _, ok := personaNames[name]; ok {
			return fmt.Errorf("personas[%d] (%s): duplicate name", i, name)
		}
		personaNames[name] = struct{}{}
	}

	seenIDs := make(map[string]struct{}, len(suite.Cases))
	for i, c := range suite.Cases {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return fmt.Errorf("cases[%d]: missing id", i)
		}
		if _, ok := seenIDs[id]; ok {
			return fmt.Errorf("cases[%d] (%s): duplicate id", i, id)
		}
		seenIDs[id] = struct{}{}

		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("cases[%d] (%s): missing name", i, id)
		}
		if strings.TrimSpace(c.Scenario) == "" {
			return fmt.Errorf("cases[%d] (%s): missing scenario", i, id)
		}
		if c.MaxTurns < 0 {
			return fmt.Errorf("cases[%d] (%s): max_turns must be >= 0", i, id)
		}
		if ref := strings.TrimSpace(c.Persona); ref != "" {
			if _, ok := personaNames[ref]; !ok {
				return fmt.Errorf("cases[%d] (%s): unknown persona %q", i, id, ref)
			}
		}

		for j, cr := range c.Criteria {
			if strings.TrimSpace(cr.Criterion) == "" {
				return fmt.Errorf("cases[%d] (%s): criteria[%d]: empty criterion", i, id, j)
			}
			if !ValidCriterionType(cr.Type) {
				return fmt.Errorf("cases[%d] (%s): criteria[%d]: unknown type %q", i, id, j, cr.Type)
			}
		}
	}
	return nil
}

// PersonaByName resolves a case's persona reference against the suite library.
// The bool result is false when the case has no persona assigned.
func (s *TestSuite) PersonaByName(name string) (Persona, bool) {
	if s == nil {
		return Persona{}, false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Persona{}, false
	}
	for _, p := range s.Personas {
		if strings.TrimSpace(p.Name) == name {
			return p, true
		}
	}
	return Persona{}, false
}
