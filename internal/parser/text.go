package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

var priceStripper = strings.NewReplacer(
	"\u00a0", "",
	" ", "",
	"\u200b", "",
	"\u200c", "",
	"\u200d", "",
	"\ufeff", "",
)

// CleanPrice strips non-breaking spaces, spaces, and zero-width characters,
// then parses a decimal. ok is false when the text is unreadable; price is 0 then.
func CleanPrice(raw string) (price float64, ok bool) {
	s := priceStripper.Replace(strings.TrimSpace(raw))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// Payment and installment notices that hotline renders inside offer descriptions.
var titleBoilerplate = []string{
	"оплата",
	"oплата", // latin "o"
	"карткою",
	"розрахунок",
	"післяплата",
	"...",
}

// AssembleTitle joins text fragments, dropping boilerplate fragments.
func AssembleTitle(parts []string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || containsAny(strings.ToLower(p), titleBoilerplate) {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, " ")
}

var usedMarkers = []string{
	"б/в",
	"\u0431/\u0443",
	"\u0431/y", // latin "y"
	"used",
	"вживаний",
	"уживаний",
}

// IsUsed reports whether an offer title marks the item as second-hand.
func IsUsed(title string) bool {
	return containsAny(strings.ToLower(title), usedMarkers)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

var digitsRe = regexp.MustCompile(`\d+`)

// parseCount reads the digits out of strings like "1 234 перегляди".
func parseCount(raw string) *int {
	digits := strings.Join(digitsRe.FindAllString(priceStripper.Replace(raw), -1), "")
	if digits == "" {
		return nil
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &n
}

// kyiv is the timezone the news sources publish in.
var kyiv = loadKyiv()

func loadKyiv() *time.Location {
	if loc, err := time.LoadLocation("Europe/Kyiv"); err == nil {
		return loc
	}
	return time.FixedZone("EET", 2*60*60)
}

var ukrainianMonths = map[string]time.Month{
	"січня": time.January, "лютого": time.February, "березня": time.March,
	"квітня": time.April, "травня": time.May, "червня": time.June,
	"липня": time.July, "серпня": time.August, "вересня": time.September,
	"жовтня": time.October, "листопада": time.November, "грудня": time.December,
}

var (
	ukDateRe  = regexp.MustCompile(`(\d{1,2})\s+([а-яіїєґ]+)\s+(\d{4})(?:[,\s]+(\d{1,2}):(\d{2}))?`)
	clockRe   = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	numericFm = []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"02.01.2006 15:04",
		"02.01.2006, 15:04",
		"02.01.2006",
		"2006-01-02",
	}
)

// ParseNewsTime parses the date formats used by the news sources: ISO 8601,
// dotted numeric dates, Ukrainian month names ("5 березня 2024, 14:30"), and
// a bare "HH:MM" meaning today relative to now.
func ParseNewsTime(raw string, now time.Time) (time.Time, bool) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range numericFm {
		if t, err := time.ParseInLocation(layout, s, kyiv); err == nil {
			return t, true
		}
		if t, err := time.ParseInLocation(layout, strings.ToUpper(s), kyiv); err == nil {
			return t, true
		}
	}

	if m := ukDateRe.FindStringSubmatch(s); m != nil {
		month, ok := ukrainianMonths[m[2]]
		if ok {
			day, _ := strconv.Atoi(m[1])
			year, _ := strconv.Atoi(m[3])
			hour, minute := 0, 0
			if m[4] != "" {
				hour, _ = strconv.Atoi(m[4])
				minute, _ = strconv.Atoi(m[5])
			}
			return time.Date(year, month, day, hour, minute, 0, 0, kyiv), true
		}
	}

	if m := clockRe.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		local := now.In(kyiv)
		return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, kyiv), true
	}

	return time.Time{}, false
}
