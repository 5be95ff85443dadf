package router

import (
	"fmt"
	"strings"
)

// Category is the intent assigned to an inbound query.
type Category string

// Categories. The set is closed; Route rejects anything else.
const (
	CategoryInformation Category = "INFORMATION"
	CategorySchedule    Category = "SCHEDULE"
	// CategoryDocument is an information request that asks for a generated document.
	CategoryDocument Category = "DOCUMENT_GENERATION"
	CategoryOther    Category = "OTHER"
)

// AllCategories lists every category in a stable order.
func AllCategories() []Category {
	return []Category{CategoryInformation, CategorySchedule, CategoryDocument, CategoryOther}
}

// ParseCategory maps a label to a Category, ignoring case and surrounding space.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidResult, s)
	}
	return c, nil
}

// Valid reports whether c is one of AllCategories.
func (c Category) Valid() bool {
	switch c {
	case CategoryInformation, CategorySchedule, CategoryDocument, CategoryOther:
		return true
	}
	return false
}

func (c Category) String() string { return string(c) }
