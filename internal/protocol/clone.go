package protocol

// CloneMap deep-copies decoded JSON so snapshots never alias live state.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return CloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

func (r ToolUseRef) Clone() ToolUseRef {
	r.Input = CloneMap(r.Input)
	return r
}

func (b ContentBlock) Clone() ContentBlock {
	if b.Source != nil {
		src := *b.Source
		b.Source = &src
	}
	return b
}

func (r AlwaysAllowRule) Clone() AlwaysAllowRule {
	r.Parameters = CloneMap(r.Parameters)
	if r.Pattern != nil {
		pattern := *r.Pattern
		r.Pattern = &pattern
	}
	return r
}

func (p PermissionRequest) Clone() PermissionRequest {
	p.Parameters = CloneMap(p.Parameters)
	p.Details = cloneValue(p.Details)
	return p
}
