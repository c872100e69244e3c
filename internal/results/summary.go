package results

import (
	"sort"

	"github.com/xkilldash9x/settings-crawler/internal/crawler"
)

// CategoryCount is the number of harvested controls tagged with a category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Summary aggregates the harvested controls of a run.
type Summary struct {
	Total      int                         `json:"total"`
	ByType     map[crawler.ControlType]int `json:"by_type"`
	Categories []CategoryCount             `json:"categories"`
	Screens    int                         `json:"screens"`
}

// Summarize counts controls per type and per category. Categories are
// ordered by count, then name.
func Summarize(res *crawler.RunResult) Summary {
	s := Summary{
		Total:   len(res.Controls),
		ByType:  make(map[crawler.ControlType]int),
		Screens: len(res.Visited),
	}
	perCategory := make(map[string]int)
	for _, c := range res.Controls {
		s.ByType[c.Type]++
		for _, cat := range c.Categories {
			perCategory[cat]++
		}
	}
	for cat, n := range perCategory {
		s.Categories = append(s.Categories, CategoryCount{Category: cat, Count: n})
	}
	sort.Slice(s.Categories, func(i, j int) bool {
		if s.Categories[i].Count != s.Categories[j].Count {
			return s.Categories[i].Count > s.Categories[j].Count
		}
		return s.Categories[i].Category < s.Categories[j].Category
	})
	return s
}
