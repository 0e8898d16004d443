package testcase

// CriterionType weights a success criterion in pass/fail determination.
type CriterionType string

const (
	MustPass    CriterionType = "must_pass"
	ShouldPass  CriterionType = "should_pass"
	MustNotFail CriterionType = "must_not_fail"
)

// TestSuite defines an agent under test and the scenarios to run it through.
type TestSuite struct {
	Suite       string     `yaml:"suite"`
	Description string     `yaml:"description,omitempty"`
	Agent       Agent      `yaml:"agent"`
	Personas    []Persona  `yaml:"personas,omitempty"`
	Cases       []TestCase `yaml:"cases"`
}

// Agent is the agent-side configuration the simulator needs.
type Agent struct {
	SystemPrompt string `yaml:"system_prompt"`
	FirstMessage string `yaml:"first_message,omitempty"`
}

// Persona is a named synthetic-caller archetype.
type Persona struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Traits      Traits `yaml:"traits,omitempty"`
}

// Traits describe how the simulated caller behaves.
type Traits struct {
	Temperament        string `yaml:"temperament,omitempty"`
	CommunicationStyle string `yaml:"communication_style,omitempty"`
	KnowledgeLevel     string `yaml:"knowledge_level,omitempty"`
	ObjectionTendency  string `yaml:"objection_tendency,omitempty"`
	CustomInstructions string `yaml:"custom_instructions,omitempty"`
}

// TestCase defines a single caller scenario and its pass/fail criteria.
type TestCase struct {
	ID       string             `yaml:"id"`
	Name     string             `yaml:"name"`
	Scenario string             `yaml:"scenario"`
	Persona  string             `yaml:"persona,omitempty"`   // Reference to a suite persona by name
	MaxTurns int                `yaml:"max_turns,omitempty"` // Exchanges, not raw messages
	Criteria []SuccessCriterion `yaml:"criteria,omitempty"`
}

// SuccessCriterion is one condition a transcript is judged against.
type SuccessCriterion struct {
	Criterion string        `yaml:"criterion"`
	Type      CriterionType `yaml:"type"`
}

// ValidCriterionType reports whether t is a known criterion type.
func ValidCriterionType(t CriterionType) bool {
	switch t {
	case MustPass, ShouldPass, MustNotFail:
		return true
	default:
		return false
	}
}
