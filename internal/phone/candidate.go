package phone

import "fmt"

const SourcePrimary = "primary"

// Candidate is one phone identity derived from a lead.
type Candidate struct {
	Raw      string // digits as found on the record
	Source   string // "primary" or "secondary #N", for logs
	Identity string
}

// Parts is the phone-bearing subset of a lead record.
type Parts struct {
	AreaCode  string
	Local     string
	Secondary string // delimiter separated free text
}

// Expand derives the candidate list for a lead: the composed primary number
// (when composable) followed by every secondary segment. Raw strings that do
// not normalize are dropped. The result is deduplicated by identity.
func (n *Normalizer) Expand(p Parts) []Candidate {
	out := make([]Candidate, 0, 4)
	if raw, ok := n.ComposeFromParts(p.AreaCode, p.Local); ok {
		if id, ok := n.Normalize(raw); ok {
			out = append(out, Candidate{Raw: raw, Source: SourcePrimary, Identity: id})
		}
	}
	for i, raw := range n.ExtractMultiple(p.Secondary) {
		id, ok := n.Normalize(raw)
		if !ok {
			continue
		}
		out = append(out, Candidate{Raw: raw, Source: fmt.Sprintf("secondary #%d", i+1), Identity: id})
	}
	return Dedup(out)
}

// Dedup keeps the first candidate for each identity, preserving order.
func Dedup(cs []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(cs))
	out := make([]Candidate, 0, len(cs))
	for _, c := range cs {
		if _, dup := seen[c.Identity]; dup {
			continue
		}
		seen[c.Identity] = struct{}{}
		out = append(out, c)
	}
	return out
}

