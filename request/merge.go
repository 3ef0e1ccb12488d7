package request

// Merge applies an update on top of the stored state of a widget and returns
// the new state. base and upd are not modified.
//
// Identity and bookkeeping fields come from upd. Label and Description are
// replaced only when upd carries them. Attributes are merged by name: existing
// names keep their position with the new value, new names are appended in
// the order upd lists them.
func Merge(base, upd *Request) *Request {
	out := *upd
	out.Raw = nil
	out.Label = base.Label
	out.Description = base.Description
	if upd.Label != nil {
		out.Label = upd.Label
	}
	if upd.Description != nil {
		out.Description = upd.Description
	}

	out.OtherAttributes = make([]Attribute, 0, len(base.OtherAttributes)+len(upd.OtherAttributes))
	out.OtherAttributes = append(out.OtherAttributes, base.OtherAttributes...)
	pos := make(map[string]int, len(out.OtherAttributes))
	for i, a := range out.OtherAttributes {
		pos[a.Name] = i
	}
	for _, a := range upd.OtherAttributes {
		if i, ok := pos[a.Name]; ok {
			out.OtherAttributes[i].Value = a.Value
			continue
		}
		pos[a.Name] = len(out.OtherAttributes)
		out.OtherAttributes = append(out.OtherAttributes, a)
	}
	if len(out.OtherAttributes) == 0 {
		out.OtherAttributes = nil
	}
	return &out
}
