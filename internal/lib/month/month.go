// Package month считает границы расчётных периодов подписки.
package month

import (
	"time"
)

// AddMonths сдвигает t на n месяцев. Если в целевом месяце нет такого дня,
// берётся его последний день: 31 января + 1 месяц = 28 или 29 февраля.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// RemainingMonths считает, сколько полных месяцев периода [start, start+months)
// ещё осталось на момент at.
func RemainingMonths(start time.Time, months int, at time.Time) int {
	end := AddMonths(start, months)

	// Период уже закончился
	if !at.Before(end) {
		return 0
	}

	// Период ещё не начался
	if !at.After(start) {
		return months
	}

	passed := (at.Year()-start.Year())*12 + int(at.Month()) - int(start.Month())

	// Начатый месяц считается прошедшим
	if at.Day() > start.Day() || (at.Day() == start.Day() && at.After(AddMonths(start, passed))) {
		passed++
	}

	remaining := months - passed
	if remaining < 0 {
		return 0
	}
	return remaining
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
