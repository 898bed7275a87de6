package zone

import "slices"

// TagRule maps one OpenStreetMap key=value pair to a category.
type TagRule struct {
	Key      string
	Value    string
	Category Category
}

var tagRules = []TagRule{
	{Key: "landuse", Value: "military", Category: Military},
	{Key: "aeroway", Value: "aerodrome", Category: Aerodrome},
	{Key: "aeroway", Value: "runway", Category: Runway},
	{Key: "amenity", Value: "prison", Category: Prison},
	{Key: "amenity", Value: "school", Category: School},
	{Key: "amenity", Value: "kindergarten", Category: Kindergarten},
	{Key: "leisure", Value: "nature_reserve", Category: NatureReserve},
	{Key: "building", Value: "government", Category: Government},
}

// TagRules returns the rules for the given categories, all rules when cats
// is empty.
func TagRules(cats []Category) []TagRule {
	if len(cats) == 0 {
		return slices.Clone(tagRules)
	}
	var out []TagRule
	for _, r := range tagRules {
		if slices.Contains(cats, r.Category) {
			out = append(out, r)
		}
	}
	return out
}

// Classify returns the category of the first rule matched by tag, which
// looks up a tag value by key.
func Classify(tag func(key string) string) (Category, bool) {
	for _, r := range tagRules {
		if tag(r.Key) == r.Value {
			return r.Category, true
		}
	}
	return 0, false
}
