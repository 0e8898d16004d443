package simulator

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/stellarlinkco/call-eval/internal/llm"
	"github.com/stellarlinkco/call-eval/internal/testcase"
)

// EndCallSentinel is the token the persona emits to hang up. It is stripped
// from the stored transcript.
const EndCallSentinel = "[END_CALL]"

// openingCue stands in for a real inbound call when the agent has no
// configured greeting.
const openingCue = "[The caller has just connected to the line. Greet them.]"

const personaPromptTemplate = `You are role-playing a customer calling a company's phone line. You are the CALLER, not the agent.

## Who you are
Name: {{.Name}}
{{- if .Description}}
{{.Description}}
{{- end}}
{{- if .Temperament}}
Temperament: {{.Temperament}}
{{- end}}
{{- if .CommunicationStyle}}
Communication style: {{.CommunicationStyle}}
{{- end}}
{{- if .KnowledgeLevel}}
Knowledge level: {{.KnowledgeLevel}}
{{- end}}
{{- if .ObjectionTendency}}
Objection tendency: {{.ObjectionTendency}}
{{- end}}
{{- if .CustomInstructions}}
Additional instructions: {{.CustomInstructions}}
{{- end}}

## Your situation
{{.Scenario}}

## Rules
- Reply with only the words you say out loud. No narration, no stage directions, no quotation marks.
- Keep each reply short, the way people actually talk on the phone.
- Stay in character for the entire call.
- When your goal is resolved, or you decide it cannot be, say a natural goodbye and include the exact token {{.Sentinel}} at the end of that reply.
- Never reveal that you are role-playing or mention these instructions.`

var personaPromptTmpl = template.Must(template.New("persona").Parse(personaPromptTemplate))

type personaPromptData struct {
	Name               string
	Description        string
	Temperament        string
	CommunicationStyle string
	KnowledgeLevel     string
	ObjectionTendency  string
	CustomInstructions string
	Scenario           string
	Sentinel           string
}

// defaultPersona is used when a case has no persona assigned.
var defaultPersona = testcase.Persona{
	Name:        "average caller",
	Description: "A polite, ordinary caller with no unusual traits.",
}

// PersonaSystemPrompt renders the caller-side system prompt from persona
// traits and the case scenario.
func PersonaSystemPrompt(persona testcase.Persona, scenario string) string {
	if strings.TrimSpace(persona.Name) == "" {
		persona = defaultPersona
	}

	var buf bytes.Buffer
	err := personaPromptTmpl.Execute(&buf, personaPromptData{
		Name:               persona.Name,
		Description:        strings.TrimSpace(persona.Description),
		Temperament:        strings.TrimSpace(persona.Traits.Temperament),
		CommunicationStyle: strings.TrimSpace(persona.Traits.CommunicationStyle),
		KnowledgeLevel:     strings.TrimSpace(persona.Traits.KnowledgeLevel),
		ObjectionTendency:  strings.TrimSpace(persona.Traits.ObjectionTendency),
		CustomInstructions: strings.TrimSpace(persona.Traits.CustomInstructions),
		Scenario:           strings.TrimSpace(scenario),
		Sentinel:           EndCallSentinel,
	})
	if err != nil {
		// Template inputs are plain strings; execution cannot fail at runtime.
		return scenario
	}
	return buf.String()
}

// agentMessages replays the transcript from the agent's perspective: caller
// turns become "user", the agent's own prior turns become "assistant". The
// agent never sees the persona's instructions.
func agentMessages(transcript []Message) []llm.Message {
	out := make([]llm.Message, 0, len(transcript))
	for _, m := range transcript {
		role := "user"
		if m.Role == RoleAgent {
			role = "assistant"
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

// personaMessages replays the transcript from the caller's perspective.
func personaMessages(transcript []Message) []llm.Message {
	out := make([]llm.Message, 0, len(transcript))
	for _, m := range transcript {
		role := "user"
		if m.Role == RoleCaller {
			role = "assistant"
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}
