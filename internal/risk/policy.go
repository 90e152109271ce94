package risk

type policy struct {
	description     string
	recommendations []string
}

var policies = map[Level]policy{
	LevelLow: {
		description: "Low risk of diabetic retinopathy",
		recommendations: []string{
			"Routine annual eye examination",
			"Maintain a healthy lifestyle",
		},
	},
	LevelMedium: {
		description: "Moderate risk of diabetic retinopathy",
		recommendations: []string{
			"Ophthalmology consultation within the next 6 months",
			"Regular blood glucose testing",
			"Evaluation of diabetes risk factors",
		},
	},
	LevelHigh: {
		description: "High risk of diabetic retinopathy",
		recommendations: []string{
			"Urgent medical consultation",
			"Complete diabetes workup",
			"Frequent ophthalmologic monitoring",
		},
	},
}

// Policy returns the fixed description and a fresh copy of the recommendations for level.
func Policy(level Level) (string, []string) {
	p, ok := policies[level]
	if !ok {
		return "", nil
	}
	recs := make([]string, len(p.recommendations))
	copy(recs, p.recommendations)
	return p.description, recs
}
