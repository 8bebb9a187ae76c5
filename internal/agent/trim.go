package agent

// DefaultMaxContextTokens is the context budget handed to the model.
const DefaultMaxContextTokens = 10000

// TokenCounter estimates the token cost of a message.
type TokenCounter func(Message) int

// ApproxTokens counts roughly four characters per token plus a fixed
// per-message overhead.
func ApproxTokens(m Message) int {
	n := len(m.Content)
	for _, tc := range m.ToolCalls {
		n += len(tc.Function.Name) + len(tc.Function.Arguments)
	}
	return n/4 + 3
}

// Trim selects the longest suffix of msgs that fits maxTokens, starts on a
// user message and ends on a user or tool message. Trailing assistant and
// system messages are dropped first. When not even the last user turn fits,
// the suffix starting at that turn is returned anyway so the model always sees
// the request it is answering.
//
// A suffix that starts on a user message can never begin between an
// assistant tool call and its results, and ending on the last user or tool
// message keeps a result batch whole because results are committed together.
func Trim(msgs []Message, maxTokens int, count TokenCounter) []Message {
	if count == nil {
		count = ApproxTokens
	}
	end := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if t := msgs[i].Type; t == MessageTypeUser || t == MessageTypeTool {
			end = i
			break
		}
	}
	if end < 0 {
		return nil
	}

	start := end + 1
	used := 0
	for i := end; i >= 0; i-- {
		used += count(msgs[i])
		if maxTokens > 0 && used > maxTokens {
			break
		}
		start = i
	}

	first := -1
	for i := start; i <= end; i++ {
		if msgs[i].Type == MessageTypeUser {
			first = i
			break
		}
	}
	if first < 0 {
		for i := start - 1; i >= 0; i-- {
			if msgs[i].Type == MessageTypeUser {
				first = i
				break
			}
		}
	}
	if first < 0 {
		return nil
	}

	out := make([]Message, end-first+1)
	copy(out, msgs[first:end+1])
	return out
}
