package context

import "sort"

// MinRecentMessages is the tail-pinning constant from §4.3: the last N
// messages of any candidate list are always pinned regardless of score.
const MinRecentMessages = 4

// Role base scores from §4.3 step 1.
const (
	roleBaseSystem    = 100
	roleBaseTool      = 80
	roleBaseUser      = 60
	roleBaseAssistant = 40
)

const (
	bonusToolActivity = 20
	bonusLongContent  = 10
	bonusRecentQuartile = 15
	longContentThreshold = 200
)

// Candidate is one message eligible for inclusion, decoupled from
// internal/domain so this package has no storage dependency. Index is the
// candidate's position in the original input order; Pack never reorders
// relative to Index.
type Candidate struct {
	Index   int
	Role    string // "system" | "tool" | "user" | "assistant"
	Tokens  int
	HasToolActivity bool
	ContentLen int
}

// Pack selects a subset of candidates that fits within budget =
// max_tokens - reserve_tokens, implementing the exact algorithm in §4.3:
// score, pin, and greedy-fill. The returned slice preserves original
// input order and is never empty if at least one pinned message fits.
func Pack(candidates []Candidate, maxTokens, reserveTokens int) []Candidate {
	n := len(candidates)
	if n == 0 {
		return nil
	}

	budget := maxTokens - reserveTokens
	if budget < 0 {
		budget = 0
	}

	pinned := make([]bool, n)
	for i, c := range candidates {
		if c.Role == "system" {
			pinned[i] = true
		}
	}
	if firstUser := indexOfFirstRole(candidates, "user"); firstUser >= 0 {
		pinned[firstUser] = true
	}
	for i := n - MinRecentMessages; i < n; i++ {
		if i >= 0 {
			pinned[i] = true
		}
	}

	scores := make([]int, n)
	for i, c := range candidates {
		scores[i] = score(c, n)
	}

	pinnedTokens := 0
	for i, p := range pinned {
		if p {
			pinnedTokens += candidates[i].Tokens
		}
	}

	if pinnedTokens > budget {
		// Step 4: include pinned messages in chronological order until
		// budget is exhausted.
		var out []Candidate
		used := 0
		for i, p := range pinned {
			if !p {
				continue
			}
			if used+candidates[i].Tokens > budget {
				break
			}
			out = append(out, candidates[i])
			used += candidates[i].Tokens
		}
		return out
	}

	// Step 5: include all pinned, then greedy-fill unpinned by descending
	// importance, ties broken by higher index (more recent).
	selected := make([]bool, n)
	used := pinnedTokens
	for i, p := range pinned {
		if p {
			selected[i] = true
		}
	}

	type scored struct {
		idx   int
		score int
	}
	var unpinned []scored
	for i, p := range pinned {
		if !p {
			unpinned = append(unpinned, scored{idx: i, score: scores[i]})
		}
	}
	sort.SliceStable(unpinned, func(a, b int) bool {
		if unpinned[a].score != unpinned[b].score {
			return unpinned[a].score > unpinned[b].score
		}
		return unpinned[a].idx > unpinned[b].idx
	})

	for _, s := range unpinned {
		tokens := candidates[s.idx].Tokens
		if used+tokens > budget {
			continue // a later, smaller candidate may still fit
		}
		selected[s.idx] = true
		used += tokens
	}

	// Step 6: emit sorted by original index.
	var out []Candidate
	for i, sel := range selected {
		if sel {
			out = append(out, candidates[i])
		}
	}
	return out
}

func score(c Candidate, total int) int {
	s := 0
	switch c.Role {
	case "system":
		s = roleBaseSystem
	case "tool":
		s = roleBaseTool
	case "user":
		s = roleBaseUser
	case "assistant":
		s = roleBaseAssistant
	}
	if c.HasToolActivity {
		s += bonusToolActivity
	}
	if c.ContentLen > longContentThreshold {
		s += bonusLongContent
	}
	if isLastQuartile(c.Index, total) {
		s += bonusRecentQuartile
	}
	return s
}

func isLastQuartile(index, total int) bool {
	if total == 0 {
		return false
	}
	return index >= total-(total+3)/4
}

func indexOfFirstRole(candidates []Candidate, role string) int {
	for i, c := range candidates {
		if c.Role == role {
			return i
		}
	}
	return -1
}
