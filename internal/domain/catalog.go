package domain

import "time"

// Section is a business line (e.g. "Luz", "Gas") used as the first level of
// the rule addressing scheme. Color and slug are presentation metadata
// carried for the catalog's consumers.
type Section struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Color     string    `json:"color,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// SubSection is a taxonomy node under a section. Subsections may nest via
// ParentID, but commission rules only attach to direct children of a
// section; deeper nesting is content organization only.
type SubSection struct {
	ID        string    `json:"id"`
	SectionID string    `json:"sectionId"`
	ParentID  string    `json:"parentId,omitempty"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
