// Package season maps calendar dates onto half-year retail season codes.
//
// A season code is a two digit year followed by S (spring/summer, March to
// August) or F (fall/winter, September to February of the following year).
// January and February therefore belong to the previous year's F season.
package season

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/retail_dashboard/utils"
)

type Half byte

const (
	Spring Half = 'S'
	Fall   Half = 'F'
)

func (h Half) String() string { return string(h) }

// Code is a season identifier. Year is the full calendar year; two digit input
// years are read as 20YY.
type Code struct {
	Year int
	Half Half
}

// FromDate returns the season a calendar date belongs to.
func FromDate(d time.Time) Code {
	switch m := d.Month(); {
	case m >= time.September:
		return Code{Year: d.Year(), Half: Fall}
	case m <= time.February:
		return Code{Year: d.Year() - 1, Half: Fall}
	default:
		return Code{Year: d.Year(), Half: Spring}
	}
}

// StartDate returns Sep 1 for an F season and Mar 1 for an S season, applying the
// same year shift as FromDate.
func StartDate(d time.Time) time.Time {
	return FromDate(d).StartDate()
}

// Parse accepts codes like "26F" or " 25s ".
func Parse(s string) (Code, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 3 {
		return Code{}, fmt.Errorf("%w: season code %q", utils.ErrClassificationInput, s)
	}
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return Code{}, fmt.Errorf("%w: season code %q", utils.ErrClassificationInput, s)
	}
	yy, _ := strconv.Atoi(s[:2])
	half := Half(s[2])
	if half != Spring && half != Fall {
		return Code{}, fmt.Errorf("%w: season code %q", utils.ErrClassificationInput, s)
	}
	return Code{Year: 2000 + yy, Half: half}, nil
}

func MustParse(s string) Code {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Code) String() string {
	return fmt.Sprintf("%02d%s", c.Year%100, c.Half)
}

func (c Code) IsZero() bool { return c.Half == 0 }

// StartDate is the first day of the season.
func (c Code) StartDate() time.Time {
	if c.Half == Fall {
		return time.Date(c.Year, time.September, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(c.Year, time.March, 1, 0, 0, 0, 0, time.UTC)
}

// EndDate is the last day of the season.
func (c Code) EndDate() time.Time {
	return c.Next().StartDate().AddDate(0, 0, -1)
}

// Generation counts half-year steps from year zero; consecutive seasons differ by one.
func (c Code) Generation() int {
	g := c.Year * 2
	if c.Half == Fall {
		g++
	}
	return g
}

func fromGeneration(g int) Code {
	if g%2 == 0 {
		return Code{Year: g / 2, Half: Spring}
	}
	return Code{Year: g / 2, Half: Fall}
}

// Next is the immediately following season.
func (c Code) Next() Code { return fromGeneration(c.Generation() + 1) }

// Prev is the immediately preceding season.
func (c Code) Prev() Code { return fromGeneration(c.Generation() - 1) }

// PastCutoff is the same half one full year earlier.
func (c Code) PastCutoff() Code { return Code{Year: c.Year - 1, Half: c.Half} }

// Compare orders by year, then S before F.
func (c Code) Compare(o Code) int {
	switch a, b := c.Generation(), o.Generation(); {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (c Code) Before(o Code) bool { return c.Compare(o) < 0 }

func (c Code) MarshalText() ([]byte, error) {
	if c.IsZero() {
		return []byte{}, nil
	}
	return []byte(c.String()), nil
}

func (c *Code) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*c = Code{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
