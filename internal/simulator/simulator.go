package simulator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stellarlinkco/call-eval/internal/llm"
	"github.com/stellarlinkco/call-eval/internal/testcase"
)

const defaultTurnMaxTokens = 256

// Simulator drives one synthetic phone conversation between the configured
// agent behavior and a caller persona.
type Simulator struct {
	provider      llm.Provider
	turnMaxTokens int
}

func New(provider llm.Provider, turnMaxTokens int) *Simulator {
	if turnMaxTokens <= 0 {
		turnMaxTokens = defaultTurnMaxTokens
	}
	return &Simulator{
		provider:      provider,
		turnMaxTokens: turnMaxTokens,
	}
}

// Simulate runs the conversation to completion. maxTurns bounds the number of
// exchanges (one caller message plus one agent reply), so the transcript holds
// at most 2*maxTurns+1 messages including the opening.
//
// When a completion call fails mid-conversation, the partial transcript is
// returned alongside the error with EndReason set to EndError.
func (s *Simulator) Simulate(ctx context.Context, agent testcase.Agent, persona testcase.Persona, scenario string, maxTurns int) (*Result, error) {
	if s == nil || s.provider == nil {
		return nil, errors.New("simulator: nil provider")
	}
	if ctx == nil {
		return nil, errors.New("simulator: nil context")
	}
	if strings.TrimSpace(agent.SystemPrompt) == "" {
		return nil, errors.New("simulator: missing agent system prompt")
	}
	if maxTurns <= 0 {
		return nil, fmt.Errorf("simulator: max turns must be > 0 (got %d)", maxTurns)
	}

	personaPrompt := PersonaSystemPrompt(persona, scenario)
	out := &Result{}

	// Turn 0: the agent opens the call.
	opening := strings.TrimSpace(agent.FirstMessage)
	if opening == "" {
		text, err := s.complete(ctx, out, agent.SystemPrompt, []llm.Message{
			{Role: "user", Content: openingCue},
		})
		if err != nil {
			out.EndReason = EndError
			return out, fmt.Errorf("simulator: opening turn: %w", err)
		}
		opening = text
	}
	if opening == "" {
		out.EndReason = EndNatural
		return out, nil
	}
	s.append(out, RoleAgent, opening)

	for out.Exchanges < maxTurns {
		// Caller turn.
		callerText, err := s.complete(ctx, out, personaPrompt, personaMessages(out.Transcript))
		if err != nil {
			out.EndReason = EndError
			return out, fmt.Errorf("simulator: caller turn %d: %w", out.Exchanges, err)
		}
		if callerText == "" {
			out.EndReason = EndNatural
			return out, nil
		}

		ended := strings.Contains(callerText, EndCallSentinel)
		if ended {
			callerText = strings.TrimSpace(strings.ReplaceAll(callerText, EndCallSentinel, ""))
		}
		if callerText != "" {
			s.append(out, RoleCaller, callerText)
		}
		if ended {
			out.EndReason = EndPersonaEnded
			return out, nil
		}

		// Agent turn.
		agentText, err := s.complete(ctx, out, agent.SystemPrompt, agentMessages(out.Transcript))
		if err != nil {
			out.EndReason = EndError
			return out, fmt.Errorf("simulator: agent turn %d: %w", out.Exchanges, err)
		}
		if agentText == "" {
			out.EndReason = EndNatural
			return out, nil
		}
		s.append(out, RoleAgent, agentText)

		out.Exchanges++
	}

	out.EndReason = EndMaxTurns
	return out, nil
}

// complete issues one completion call and accumulates token usage regardless
// of which side produced it.
func (s *Simulator) complete(ctx context.Context, out *Result, system string, messages []llm.Message) (string, error) {
	resp, err := s.provider.Complete(ctx, &llm.Request{
		System:    system,
		Messages:  messages,
		MaxTokens: s.turnMaxTokens,
	})
	if resp != nil {
		out.InputTokens += resp.InputTokens
		out.OutputTokens += resp.OutputTokens
	}
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errors.New("nil completion")
	}
	return strings.TrimSpace(resp.Text), nil
}

func (s *Simulator) append(out *Result, role Role, content string) {
	out.Transcript = append(out.Transcript, Message{
		Role:    role,
		Content: content,
		Turn:    len(out.Transcript),
	})
}
