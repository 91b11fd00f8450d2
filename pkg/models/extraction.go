package models

// ExtractedFact is one fact the extraction LLM mined from a user turn.
type ExtractedFact struct {
	FactType   string  `json:"fact_type"`
	FactKey    string  `json:"fact_key"`
	FactValue  string  `json:"fact_value"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// ProfileUpdates carries the nullable profile fields the extraction LLM wants
// to change. Nil fields leave the stored value untouched.
type ProfileUpdates struct {
	PreferredName      *string  `json:"preferred_name,omitempty"`
	Age                *int     `json:"age,omitempty"`
	Location           *string  `json:"location,omitempty"`
	Timezone           *string  `json:"timezone,omitempty"`
	Occupation         *string  `json:"occupation,omitempty"`
	Languages          []string `json:"languages,omitempty"`
	Interests          []string `json:"interests,omitempty"`
	ExpertiseAreas     []string `json:"expertise_areas,omitempty"`
	CommunicationStyle *string  `json:"communication_style,omitempty"`
}

// IsEmpty reports whether no field carries an update.
func (u *ProfileUpdates) IsEmpty() bool {
	if u == nil {
		return true
	}
	return u.PreferredName == nil && u.Age == nil && u.Location == nil &&
		u.Timezone == nil && u.Occupation == nil && u.CommunicationStyle == nil &&
		len(u.Languages) == 0 && len(u.Interests) == 0 && len(u.ExpertiseAreas) == 0
}

// ExtractionResult is the JSON envelope the extraction prompt demands.
type ExtractionResult struct {
	Facts               []ExtractedFact `json:"facts"`
	ShouldUpdateProfile bool            `json:"should_update_profile"`
	ProfileUpdates      *ProfileUpdates `json:"profile_updates,omitempty"`
}
