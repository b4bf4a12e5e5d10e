// Copyright 2025 Coolsheets
// SPDX-License-Identifier: Apache-2.0

package inspection

// TemplateItem describes one inspectable item in the static template.
type TemplateItem struct {
	ID    string
	Label string
}

// TemplateSection describes one section of the static inspection template.
// Slugs are stable across template revisions; items carry ids unique within
// their section.
type TemplateSection struct {
	Slug  string
	Name  string
	Items []TemplateItem
}

// DefaultTemplate is the built-in pre-trip inspection template. Drafts are
// created from it with every item defaulting to StatusNA.
var DefaultTemplate = []TemplateSection{
	{
		Slug: "exterior",
		Name: "Exterior / Walk-Around",
		Items: []TemplateItem{
			{ID: "body-damage", Label: "Body panels and damage"},
			{ID: "glass", Label: "Windshield and glass"},
			{ID: "lights", Label: "Exterior lights and signals"},
			{ID: "tires", Label: "Tires and wheels"},
			{ID: "mirrors", Label: "Mirrors"},
		},
	},
	{
		Slug: "under-hood",
		Name: "Under Hood",
		Items: []TemplateItem{
			{ID: "engine-oil", Label: "Engine oil level and condition"},
			{ID: "coolant", Label: "Coolant level"},
			{ID: "belts-hoses", Label: "Belts and hoses"},
			{ID: "battery", Label: "Battery and terminals"},
			{ID: "fluid-leaks", Label: "Fluid leaks"},
		},
	},
	{
		Slug: "interior",
		Name: "Interior / In-Cab",
		Items: []TemplateItem{
			{ID: "seatbelts", Label: "Seat belts"},
			{ID: "horn", Label: "Horn"},
			{ID: "wipers", Label: "Wipers and washers"},
			{ID: "gauges", Label: "Gauges and warning lamps"},
			{ID: "hvac", Label: "Heater / defrost"},
		},
	},
	{
		Slug: "brakes",
		Name: "Brakes",
		Items: []TemplateItem{
			{ID: "service-brake", Label: "Service brake operation"},
			{ID: "parking-brake", Label: "Parking brake"},
			{ID: "brake-lines", Label: "Brake lines and fittings"},
		},
	},
	{
		Slug: "road-test",
		Name: "Road Test",
		Items: []TemplateItem{
			{ID: "steering", Label: "Steering response"},
			{ID: "transmission", Label: "Transmission shifting"},
			{ID: "noises", Label: "Abnormal noises"},
		},
	},
}

// TemplateSectionBySlug looks up a template section by its stable slug.
func TemplateSectionBySlug(slug string) (*TemplateSection, bool) {
	for i := range DefaultTemplate {
		if DefaultTemplate[i].Slug == slug {
			return &DefaultTemplate[i], true
		}
	}
	return nil, false
}

// NewDraft creates an empty draft from the default template: every item is
// StatusNA with empty notes and no photos. The caller supplies UpdatedAt via
// the store on create.
func NewDraft() *Draft {
	sections := make([]Section, 0, len(DefaultTemplate))
	for _, ts := range DefaultTemplate {
		items := make([]Item, 0, len(ts.Items))
		for _, ti := range ts.Items {
			items = append(items, Item{
				ID:     ti.ID,
				Status: StatusNA,
				Notes:  "",
				Photos: []string{},
			})
		}
		sections = append(sections, Section{Slug: ts.Slug, Name: ts.Name, Items: items})
	}
	return &Draft{
		Vehicle:  Vehicle{},
		Sections: sections,
	}
}
