package llm

// BuildResumeJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We pass this to the model as a structured output constraint and also use it locally
// to validate the response before the pipeline accepts it.
func BuildResumeJSONSchema() map[string]any {
	workExperience := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":          map[string]any{"type": "string"},
			"company":        map[string]any{"type": "string"},
			"durationMonths": map[string]any{"type": "integer", "minimum": 0},
			"description":    map[string]any{"type": "string"},
		},
		"required": []string{"title", "company", "durationMonths"},
	}
	project := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":           map[string]any{"type": "string"},
			"durationMonths": map[string]any{"type": "integer", "minimum": 0},
			"description":    map[string]any{"type": "string"},
			"link":           map[string]any{"type": "string"},
		},
		"required": []string{"name"},
	}
	education := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"degree":      map[string]any{"type": "string"},
			"institution": map[string]any{"type": "string"},
			"startDate":   map[string]any{"type": "string"},
			"endDate":     map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
		},
	}
	domainExperience := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"domain": map[string]any{"type": "string"},
			"months": map[string]any{"type": "integer", "minimum": 0},
		},
		"required": []string{"domain", "months"},
	}
	socialMediaLinks := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"linkedin":              map[string]any{"type": "string"},
			"github":                map[string]any{"type": "string"},
			"portfolio":             map[string]any{"type": "string"},
			"otherSocialMediaLinks": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"name":                           map[string]any{"type": "string"},
			"email":                          map[string]any{"type": "string"},
			"socialMediaLinks":               socialMediaLinks,
			"workExperience":                 map[string]any{"type": "array", "items": workExperience},
			"projects":                       map[string]any{"type": "array", "items": project},
			"education":                      map[string]any{"type": "array", "items": education},
			"skillsAndTechnologies":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"monthsOfWorkExperienceByDomain": map[string]any{"type": "array", "items": domainExperience},
			"otherInfo":                      map[string]any{"type": "string"},
		},
		"required": []string{"name", "email", "workExperience", "education", "skillsAndTechnologies"},
	}
}
