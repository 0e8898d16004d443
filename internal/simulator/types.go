package simulator

// Role identifies which side of the call produced a transcript message.
type Role string

const (
	RoleAgent  Role = "agent"
	RoleCaller Role = "caller"
)

// EndReason records why a simulated conversation stopped.
type EndReason string

const (
	EndPersonaEnded EndReason = "persona_ended"
	EndNatural      EndReason = "natural_end"
	EndMaxTurns     EndReason = "max_turns"
	EndError        EndReason = "error"
)

// Message is one transcript entry. Turn increases monotonically from 0 and
// messages are never mutated once appended.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Turn    int    `json:"turn"`
}

// Result is the outcome of one simulated conversation. On an aborted
// simulation the partial transcript accumulated so far is still populated.
type Result struct {
	Transcript   []Message
	Exchanges    int // Full caller+agent rounds completed
	EndReason    EndReason
	InputTokens  int
	OutputTokens int
}
