package bazi

// Element is one of the five phases with its classical correspondences.
type Element struct {
	Name      string `json:"name"`
	English   string `json:"english"`
	Trait     string `json:"trait"`
	Color     string `json:"color"`
	Direction string `json:"direction"`
	Season    string `json:"season"`
}

// Elements in generating order.
var Elements = [5]Element{
	{"木", "Wood", "growth, kindness", "green", "east", "spring"},
	{"火", "Fire", "passion, courtesy", "red", "south", "summer"},
	{"土", "Earth", "stability, trust", "yellow", "center", "all seasons"},
	{"金", "Metal", "resolve, loyalty", "white", "west", "autumn"},
	{"水", "Water", "wisdom, flexibility", "black", "north", "winter"},
}

func elementIndex(name string) int {
	for i, e := range Elements {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// Tally counts elements across the four stems and four branches.
type Tally struct {
	Counts [5]int
}

// ElementTally counts one element per stem and per branch. A complete chart sums to 8.
func ElementTally(c *Chart) Tally {
	var t Tally
	for _, p := range c.Pillars() {
		if i := elementIndex(p.Stem.Element); i >= 0 {
			t.Counts[i]++
		}
		if i := elementIndex(p.Branch.Element); i >= 0 {
			t.Counts[i]++
		}
	}
	return t
}

func (t Tally) Total() int {
	n := 0
	for _, c := range t.Counts {
		n += c
	}
	return n
}

// Strongest returns the first element with the highest count.
func (t Tally) Strongest() (Element, int) {
	best := 0
	for i, c := range t.Counts {
		if c > t.Counts[best] {
			best = i
		}
	}
	return Elements[best], t.Counts[best]
}

// Weakest returns the first element with the lowest count.
func (t Tally) Weakest() (Element, int) {
	low := 0
	for i, c := range t.Counts {
		if c < t.Counts[low] {
			low = i
		}
	}
	return Elements[low], t.Counts[low]
}

func (t Tally) Missing() []Element {
	var out []Element
	for i, c := range t.Counts {
		if c == 0 {
			out = append(out, Elements[i])
		}
	}
	return out
}

// Map keys the counts by Chinese element name.
func (t Tally) Map() map[string]int {
	m := make(map[string]int, len(Elements))
	for i, e := range Elements {
		m[e.Name] = t.Counts[i]
	}
	return m
}
