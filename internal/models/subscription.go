package models

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// BillingInterval период списания по плану
type BillingInterval string

const (
	BillingMonthly BillingInterval = "MONTHLY"
	BillingAnnual  BillingInterval = "ANNUAL"
)

// SubscriptionPlan запись каталога планов, только для чтения
type SubscriptionPlan struct {
	ID              string          `json:"id"`
	UUID            string          `json:"uuid"`
	Name            string          `json:"name"`
	PriceCents      int64           `json:"priceCents"`
	Currency        string          `json:"currency"`
	BillingInterval BillingInterval `json:"billingInterval"`
	TrialDays       int             `json:"trialDays"`
	Features        []string        `json:"features"`
}

// SubscriptionStatus статус подписки на стороне сервера
type SubscriptionStatus string

const (
	StatusPending   SubscriptionStatus = "PENDING"
	StatusActive    SubscriptionStatus = "ACTIVE"
	StatusSuspended SubscriptionStatus = "SUSPENDED"
	StatusCanceled  SubscriptionStatus = "CANCELED"
)

// LifecycleState состояние жизненного цикла подписки на клиенте:
// статус сервера либо NONE, если подписки нет.
type LifecycleState string

// StateNone подписка отсутствует
const StateNone LifecycleState = "NONE"

// ScoutAttribution ссылка на скаута, которому засчитывается продажа.
// Только для отчётности, владельцем подписки скаут не является.
type ScoutAttribution struct {
	ScoutID     string `json:"scoutId" validate:"required"`
	ScoutName   string `json:"scoutName"`
	TroopNumber string `json:"troopNumber"`
}

// decimalRe грамматика числа JSON: MarshalJSON пишет значение как есть.
var decimalRe = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

var errInvalidDecimal = errors.New("invalid decimal")

// Decimal десятичное число в виде строки, без потери точности при разборе JSON.
// Сервер может прислать как число, так и строку.
type Decimal string

// UnmarshalJSON принимает 12.5 и "12.5".
func (d *Decimal) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*d = ""
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	if s != "" && !decimalRe.MatchString(s) {
		return errInvalidDecimal
	}
	*d = Decimal(s)
	return nil
}

// MarshalJSON пишет значение как число.
func (d Decimal) MarshalJSON() ([]byte, error) {
	if d == "" {
		return []byte("0"), nil
	}
	return []byte(d), nil
}

// Float64 возвращает значение для отображения.
func (d Decimal) Float64() float64 {
	f, _ := strconv.ParseFloat(string(d), 64)
	return f
}

// Subscription подписка пользователя.
// Клиент никогда не меняет Status сам: после любой мутации подписка перечитывается с сервера.
type Subscription struct {
	ID                 string             `json:"id"`
	Plan               SubscriptionPlan   `json:"plan"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time          `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time          `json:"currentPeriodEnd"`
	CancelAtPeriodEnd  bool               `json:"cancelAtPeriodEnd"`
	ScoutAttribution   *ScoutAttribution  `json:"scoutAttribution,omitempty"`
	TotalSavings       Decimal            `json:"totalSavings"`
}

// AutoRenew производное поле: продлится ли подписка после текущего периода.
func (s Subscription) AutoRenew() bool {
	return !s.CancelAtPeriodEnd
}

// WillLapse активна, но закончится в конце периода.
func (s Subscription) WillLapse() bool {
	return s.Status == StatusActive && s.CancelAtPeriodEnd
}

// PeriodElapsed сообщает, закончился ли текущий период к моменту now.
func (s Subscription) PeriodElapsed(now time.Time) bool {
	return !s.CurrentPeriodEnd.IsZero() && !now.Before(s.CurrentPeriodEnd)
}

// State возвращает состояние жизненного цикла для подписки (для nil это NONE).
func (s *Subscription) State() LifecycleState {
	if s == nil {
		return StateNone
	}
	return LifecycleState(s.Status)
}

// PaymentMethod непрозрачный токен платёжного шлюза (Authorize.net opaque data)
type PaymentMethod struct {
	DataDescriptor string `json:"dataDescriptor" validate:"required"`
	DataValue      string `json:"dataValue" validate:"required"`
}
