package listing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
)

// NormalizeDate turns a listing date of the form D/M/Y into YYYY-MM-DD. The
// year is kept as written; day and month are zero-padded. Anything that is
// not three numeric components forming a real calendar date is unprocessable.
func NormalizeDate(raw string) (string, error) {
	parts := strings.Split(strings.TrimSpace(raw), "/")
	if len(parts) != 3 {
		return "", crawler.Unprocessable(fmt.Sprintf("date %q: want day/month/year", raw))
	}
	nums := make([]int, 3)
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || strings.TrimLeft(p, "0123456789") != "" {
			return "", crawler.Unprocessable(fmt.Sprintf("date %q: component %d is not numeric", raw, i+1))
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", crawler.Unprocessable(fmt.Sprintf("date %q: %v", raw, err))
		}
		nums[i] = n
		parts[i] = p
	}
	day, month, year := nums[0], nums[1], nums[2]
	if month < 1 || month > 12 || day < 1 || day > daysIn(month, year) {
		return "", crawler.Unprocessable(fmt.Sprintf("date %q: not a calendar date", raw))
	}
	return fmt.Sprintf("%s-%02d-%02d", parts[2], month, day), nil
}

func daysIn(month, year int) int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
