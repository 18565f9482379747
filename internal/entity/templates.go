package entity

// activityTemplates maps a listing type to its ordered follow-on
// activities. A fixed lookup table: extend by adding entries, not by
// adding branching logic.
var activityTemplates = map[string][]string{
	"SALE": {
		"Schedule photos",
		"Create MLS listing",
		"Schedule open house",
		"Order yard sign",
	},
	"LEASE": {
		"Schedule photos",
		"Create rental listing",
		"Set up showings schedule",
	},
}

// TemplateFor returns the ordered activity names for a listing type.
// Unknown or empty types get no templated activities.
func TemplateFor(listingType string) []string {
	return activityTemplates[listingType]
}
