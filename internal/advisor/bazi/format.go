package bazi

import (
	"fmt"
	"strings"
	"time"
)

const (
	llmShenShaLimit    = 5
	llmCycleLimit      = 3
	reportShenShaLimit = 8
	reportCycleLimit   = 6
)

// FormatForLLM renders the chart as compact reference text for a prompt.
func FormatForLLM(c *Chart) string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "性别：%s\n", c.Gender)
	fmt.Fprintf(&b, "阳历：%s\n", c.Solar)
	fmt.Fprintf(&b, "农历：%s\n", c.Lunar)
	fmt.Fprintf(&b, "八字：%s\n", c.EightChars)
	fmt.Fprintf(&b, "生肖：%s\n", c.Zodiac)
	fmt.Fprintf(&b, "日主：%s", c.DayMaster)

	for i, p := range c.Pillars() {
		if p.Empty() {
			continue
		}
		name := PillarNames[i]
		fmt.Fprintf(&b, "\n\n%s：\n", name)
		fmt.Fprintf(&b, "  天干：%s (%s%s)\n", p.Stem.Stem, p.Stem.Element, p.Stem.YinYang)
		// the day stem is the Day Master itself and has no ten god
		if name != "日柱" {
			fmt.Fprintf(&b, "  十神：%s\n", p.Stem.TenGod)
		}
		fmt.Fprintf(&b, "  地支：%s (%s%s)\n", p.Branch.Branch, p.Branch.Element, p.Branch.YinYang)
		fmt.Fprintf(&b, "  纳音：%s\n", p.NaYin)
		fmt.Fprintf(&b, "  运势：%s", p.StarLuck)
	}

	fmt.Fprintf(&b, "\n\n命宫：%s\n", c.LifePalace)
	fmt.Fprintf(&b, "身宫：%s", c.BodyPalace)

	if len(c.ShenSha) > 0 {
		b.WriteString("\n\n神煞（重要）：")
		for _, name := range PillarNames {
			if list := c.ShenSha[name]; len(list) > 0 {
				fmt.Fprintf(&b, "\n  %s：%s", name, strings.Join(head(list, llmShenShaLimit), ", "))
			}
		}
	}

	if c.Luck != nil && len(c.Luck.Cycles) > 0 {
		fmt.Fprintf(&b, "\n\n起运年龄：%d岁\n大运（近期）：", c.Luck.StartAge)
		for _, y := range headCycles(c.Luck.Cycles, llmCycleLimit) {
			fmt.Fprintf(&b, "\n  %s (%d-%d年, %d-%d岁) - 天干：%s",
				y.GanZhi, y.StartYear, y.EndYear, y.StartAge, y.EndAge, y.StemTenGod)
		}
	}
	return b.String()
}

// Report renders a readable multi-section analysis. now marks the current luck cycle.
func Report(c *Chart, now time.Time) string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	section := func(title string) {
		fmt.Fprintf(&b, "\n%s\n%s\n%s\n", rule, title, rule)
	}

	section("Basic information")
	fmt.Fprintf(&b, "Gender:     %s\n", c.Gender)
	fmt.Fprintf(&b, "Solar date: %s\n", c.Solar)
	fmt.Fprintf(&b, "Lunar date: %s\n", c.Lunar)
	fmt.Fprintf(&b, "Zodiac:     %s\n", c.Zodiac)
	fmt.Fprintf(&b, "Eight chars: %s\n", c.EightChars)
	fmt.Fprintf(&b, "Day Master: %s (your core element)\n", c.DayMaster)

	section("Four pillars")
	for i, p := range c.Pillars() {
		if p.Empty() {
			continue
		}
		fmt.Fprintf(&b, "\n[%s]\n", PillarNames[i])
		fmt.Fprintf(&b, "  Stem:   %s (%s%s)", p.Stem.Stem, p.Stem.Element, p.Stem.YinYang)
		if p.Stem.TenGod != "" {
			fmt.Fprintf(&b, " - %s", p.Stem.TenGod)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "  Branch: %s (%s%s)\n", p.Branch.Branch, p.Branch.Element, p.Branch.YinYang)
		if hidden := hiddenStems(p.Branch.Hidden); hidden != "" {
			fmt.Fprintf(&b, "  Hidden: %s\n", hidden)
		}
		fmt.Fprintf(&b, "  Nayin:  %s\n", p.NaYin)
		fmt.Fprintf(&b, "  Luck:   %s (seat %s)\n", p.StarLuck, p.SelfSeat)
	}

	section("Five elements")
	t := ElementTally(c)
	for i, e := range Elements {
		n := t.Counts[i]
		bar := strings.Repeat("#", n) + strings.Repeat(".", max(0, 5-n))
		fmt.Fprintf(&b, "  %s %-5s %s %d (%s) - %s/%s\n", e.Name, e.English, bar, n, e.Trait, e.Color, e.Direction)
	}
	strong, sn := t.Strongest()
	weak, wn := t.Weakest()
	fmt.Fprintf(&b, "\n  Strongest: %s %s (%d)\n", strong.Name, strong.English, sn)
	if wn == 0 {
		fmt.Fprintf(&b, "  Missing:   %s %s - add %s tones\n", weak.Name, weak.English, weak.Color)
	} else {
		fmt.Fprintf(&b, "  Weakest:   %s %s (%d)\n", weak.Name, weak.English, wn)
	}

	if c.Luck != nil && len(c.Luck.Cycles) > 0 {
		section("Luck cycles")
		fmt.Fprintf(&b, "Starts at age %d (%s)\n\n", c.Luck.StartAge, c.Luck.StartDate)
		for i, y := range headCycles(c.Luck.Cycles, reportCycleLimit) {
			marker := "   "
			if y.Covers(now.Year()) {
				marker = "-> "
			}
			fmt.Fprintf(&b, "%s%d. %s (%d-%d, age %d-%d) - %s\n",
				marker, i+1, y.GanZhi, y.StartYear, y.EndYear, y.StartAge, y.EndAge, y.StemTenGod)
		}
	}

	if len(c.ShenSha) > 0 {
		section("Shen sha")
		for _, name := range PillarNames {
			if list := c.ShenSha[name]; len(list) > 0 {
				fmt.Fprintf(&b, "%s: %s\n", name, strings.Join(head(list, reportShenShaLimit), ", "))
			}
		}
	}

	section("Summary")
	fmt.Fprintf(&b, "Your Day Master is %s and your eight characters are %s.\n", c.DayMaster, c.EightChars)
	b.WriteString("The chart is a reference; your choices still shape the path.\n")
	return b.String()
}

func hiddenStems(h HiddenStems) string {
	var parts []string
	for _, s := range []*HiddenStem{h.Main, h.Middle, h.Residual} {
		if s != nil && s.Stem != "" {
			parts = append(parts, fmt.Sprintf("%s(%s)", s.Stem, s.TenGod))
		}
	}
	return strings.Join(parts, " / ")
}

func head(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}

func headCycles(list []LuckCycle, n int) []LuckCycle {
	if len(list) > n {
		return list[:n]
	}
	return list
}

// ISODatetime joins a date (YYYY-MM-DD or YYYY/MM/DD), a clock (HH:MM or
// HH:MM:SS) and an offset into the calculator's datetime form.
func ISODatetime(date, clock, tz string) string {
	date = strings.ReplaceAll(strings.TrimSpace(date), "/", "-")
	clock = strings.TrimSpace(clock)
	if strings.Count(clock, ":") == 1 {
		clock += ":00"
	}
	if tz == "" {
		tz = "+08:00"
	}
	return date + "T" + clock + tz
}

// WithOffset completes a "YYYY-MM-DD[T ]HH:MM[:SS]" datetime with tz when it
// carries no offset of its own. Other shapes pass through trimmed.
func WithOffset(datetime, tz string) string {
	datetime = strings.TrimSpace(datetime)
	date, clock, ok := strings.Cut(strings.Replace(datetime, " ", "T", 1), "T")
	if !ok {
		return datetime
	}
	if strings.HasSuffix(clock, "Z") || strings.ContainsAny(clock, "+-") {
		return date + "T" + clock
	}
	return ISODatetime(date, clock, tz)
}
