package bazi

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Number decodes a JSON number or a numeric string; anything else is 0.
type Number int

func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = Number(v)
	return nil
}

type Stem struct {
	Stem    string `json:"天干"`
	Element string `json:"五行"`
	YinYang string `json:"阴阳"`
	TenGod  string `json:"十神"`
}

type HiddenStem struct {
	Stem   string `json:"天干"`
	TenGod string `json:"十神"`
}

type HiddenStems struct {
	Main     *HiddenStem `json:"主气"`
	Middle   *HiddenStem `json:"中气"`
	Residual *HiddenStem `json:"余气"`
}

type Branch struct {
	Branch  string      `json:"地支"`
	Element string      `json:"五行"`
	YinYang string      `json:"阴阳"`
	Hidden  HiddenStems `json:"藏干"`
}

type Pillar struct {
	Stem     Stem   `json:"天干"`
	Branch   Branch `json:"地支"`
	NaYin    string `json:"纳音"`
	StarLuck string `json:"星运"`
	SelfSeat string `json:"自坐"`
}

// Empty reports whether the calculator left the pillar out.
func (p Pillar) Empty() bool {
	return p.Stem.Stem == "" && p.Branch.Branch == ""
}

// LuckCycle is one ten-year period (大运).
type LuckCycle struct {
	GanZhi     string `json:"干支"`
	StartYear  Number `json:"开始年份"`
	EndYear    Number `json:"结束"`
	StartAge   Number `json:"开始年龄"`
	EndAge     Number `json:"结束年龄"`
	StemTenGod string `json:"天干十神"`
}

// Covers reports whether year falls inside the cycle.
func (c LuckCycle) Covers(year int) bool {
	return c.StartYear > 0 && int(c.StartYear) <= year && year <= int(c.EndYear)
}

type LuckCycles struct {
	StartAge  Number      `json:"起运年龄"`
	StartDate string      `json:"起运日期"`
	Cycles    []LuckCycle `json:"大运"`
}

// Chart is the calculator's answer. Field names follow its Chinese keys.
type Chart struct {
	Gender     string              `json:"性别"`
	Solar      string              `json:"阳历"`
	Lunar      string              `json:"农历"`
	EightChars string              `json:"八字"`
	Zodiac     string              `json:"生肖"`
	DayMaster  string              `json:"日主"`
	Year       Pillar              `json:"年柱"`
	Month      Pillar              `json:"月柱"`
	Day        Pillar              `json:"日柱"`
	Hour       Pillar              `json:"时柱"`
	LifePalace string              `json:"命宫"`
	BodyPalace string              `json:"身宫"`
	ShenSha    map[string][]string `json:"神煞"`
	Luck       *LuckCycles         `json:"大运"`
}

// PillarNames are the pillar keys in chart order.
var PillarNames = [4]string{"年柱", "月柱", "日柱", "时柱"}

// Pillars returns year, month, day and hour in order.
func (c *Chart) Pillars() [4]Pillar {
	return [4]Pillar{c.Year, c.Month, c.Day, c.Hour}
}

// ParseChart decodes raw calculator JSON.
func ParseChart(raw json.RawMessage) (*Chart, error) {
	var c Chart
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
