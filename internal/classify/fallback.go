package classify

import (
	"strings"

	"github.com/eagleharbor/monitor/internal/pipeline"
)

// Keyword tiers for the deterministic fallback. Critical terms signal a
// decision being made, high terms signal the bodies that make them.
var (
	criticalTerms = []string{"vote", "approval", "legislative amendment", "zoning change"}
	highTerms     = []string{"planning board", "county council", "task force"}

	// Ordered so ties always resolve to the same category: a re-run over
	// identical text must never flip the assignment.
	categoryTerms = []struct {
		category pipeline.Category
		terms    []string
	}{
		{pipeline.CategoryMeeting, []string{"meeting", "hearing", "agenda", "public comment"}},
		{pipeline.CategoryLegislation, []string{"bill", "legislation", "ordinance", "resolution", "amendment"}},
		{pipeline.CategoryPolicy, []string{"policy", "moratorium", "executive order", "task force"}},
		{pipeline.CategoryEnvironmental, []string{"environment", "water", "noise", "emissions", "conservation"}},
		{pipeline.CategoryCommunity, []string{"residents", "community", "neighborhood", "opposition"}},
	}

	regionTerms = map[pipeline.RegionTag][]string{
		pipeline.RegionPrinceGeorges: {"prince george"},
		pipeline.RegionCharles:       {"charles county", "waldorf", "la plata"},
	}

	relevanceTerms = []string{"data center", "datacenter", "server farm", "hyperscale", "substation"}
)

// FallbackClassify scores an article without the model. Priority comes from
// keyword tiers, relevance from hit density of core terms, category and
// region from term groups. The result always carries the Fallback marker so
// it stays eligible for a later model pass.
func FallbackClassify(title, body string) pipeline.Classification {
	content := strings.ToLower(title + " " + body)

	priority := 5
	if containsAny(content, criticalTerms) {
		priority = 8
	} else if containsAny(content, highTerms) {
		priority = 7
	}

	relevance := 3
	for _, term := range relevanceTerms {
		if n := strings.Count(content, term); n > 0 {
			relevance += 2
			if n > 2 {
				relevance++
			}
		}
	}
	if relevance > 10 {
		relevance = 10
	}

	category := pipeline.CategoryDevelopment
	best := 0
	for _, group := range categoryTerms {
		hits := 0
		for _, term := range group.terms {
			if strings.Contains(content, term) {
				hits++
			}
		}
		if hits > best {
			best, category = hits, group.category
		}
	}

	region := pipeline.RegionUnclear
	pg := containsAny(content, regionTerms[pipeline.RegionPrinceGeorges])
	ch := containsAny(content, regionTerms[pipeline.RegionCharles])
	switch {
	case pg && ch:
		region = pipeline.RegionBoth
	case pg:
		region = pipeline.RegionPrinceGeorges
	case ch:
		region = pipeline.RegionCharles
	}

	return pipeline.Classification{
		RelevanceScore: relevance,
		PriorityScore:  priority,
		Category:       category,
		RegionTag:      region,
		Summary:        title,
		KeyPoints:      nil,
		Fallback:       true,
	}
}

func containsAny(content string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(content, term) {
			return true
		}
	}
	return false
}
