package column

// Resolved holds one Set per domain for a single template.
type Resolved struct {
	Recipient  Set
	Enrollment Set
	Screening  Set
}

// Resolve splits a template's declared variables across the three domains.
// Variables no domain knows are dropped silently.
func Resolve(vars []string) Resolved {
	return Resolved{
		Recipient:  Recipient.FromTemplateVariables(vars),
		Enrollment: Enrollment.FromTemplateVariables(vars),
		Screening:  Screening.FromTemplateVariables(vars),
	}
}

// Dropped returns the variables in vars that no domain recognised, in input
// order. It exists for diagnostics only.
func (r Resolved) Dropped(vars []string) []string {
	var out []string
	for _, v := range vars {
		if !Recipient.Knows(v) && !Enrollment.Knows(v) && !Screening.Knows(v) {
			out = append(out, v)
		}
	}
	return out
}

// IsEmpty reports whether the template needs no data at all.
func (r Resolved) IsEmpty() bool {
	return r.Recipient.IsEmpty() && r.Enrollment.IsEmpty() && r.Screening.IsEmpty()
}
