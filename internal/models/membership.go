package models

// SectionRef addresses one section of a class.
type SectionRef struct {
	ClassID string `db:"class_id" json:"classId" validate:"required"`
	Section string `db:"section" json:"section" validate:"required"`
}

// Membership is a class/section affiliation of a viewer, either created or enrolled.
type Membership struct {
	ClassID   string `db:"class_id" json:"classId"`
	ClassName string `db:"class_name" json:"className"`
	Section   string `db:"section" json:"section"`
}

// Ref returns the section address of the membership.
func (m Membership) Ref() SectionRef {
	return SectionRef{ClassID: m.ClassID, Section: m.Section}
}

// MembershipSet is a de-duplicated collection of memberships.
type MembershipSet []Membership

// NewMembershipSet removes duplicate class/section pairs keeping the first occurrence.
func NewMembershipSet(items []Membership) MembershipSet {
	seen := make(map[SectionRef]struct{}, len(items))
	out := make(MembershipSet, 0, len(items))
	for _, m := range items {
		if _, ok := seen[m.Ref()]; ok {
			continue
		}
		seen[m.Ref()] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Has reports whether the set contains the given section.
func (s MembershipSet) Has(ref SectionRef) bool {
	for _, m := range s {
		if m.ClassID == ref.ClassID && m.Section == ref.Section {
			return true
		}
	}
	return false
}

// ClassIDs returns the distinct class ids of the set.
func (s MembershipSet) ClassIDs() []string {
	seen := make(map[string]struct{}, len(s))
	ids := make([]string, 0, len(s))
	for _, m := range s {
		if _, ok := seen[m.ClassID]; ok {
			continue
		}
		seen[m.ClassID] = struct{}{}
		ids = append(ids, m.ClassID)
	}
	return ids
}
