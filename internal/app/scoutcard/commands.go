package scoutcard

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/scoutcard/internal/lib/month"
	"github.com/magabrotheeeer/scoutcard/internal/models"
	"github.com/magabrotheeeer/scoutcard/internal/services/subscription"
)

// ErrUsage неверные аргументы команды.
var ErrUsage = errors.New("usage")

type command struct {
	summary string
	run     func(ctx context.Context, args []string) error
}

func (a *App) commands() map[string]command {
	return map[string]command{
		"login":        {"log in with email and password", a.login},
		"signup":       {"create a parent account", a.signup},
		"logout":       {"end the session", a.logout},
		"whoami":       {"show the current user", a.whoami},
		"plans":        {"list plans available to you", a.plans},
		"subscription": {"show the current subscription", a.subscription},
		"subscribe":    {"purchase a plan", a.subscribe},
		"cancel":       {"cancel at the end of the period", a.cancel},
		"reactivate":   {"undo a scheduled cancellation", a.reactivate},
		"renew":        {"extend the subscription by one period", a.renew},
		"autorenew":    {"turn auto-renew on or off", a.autorenew},
	}
}

// Run выполняет команду args[0]. Перед командой восстанавливается сохранённая сессия.
func (a *App) Run(ctx context.Context, args []string) error {
	const op = "scoutcard.Run"

	cmds := a.commands()
	if len(args) == 0 {
		a.usage(cmds)
		return ErrUsage
	}
	cmd, ok := cmds[args[0]]
	if !ok {
		a.usage(cmds)
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}

	if err := a.Session.Initialize(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return cmd.run(ctx, args[1:])
}

func (a *App) usage(cmds map[string]command) {
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(a.out, "usage: scoutcard <command> [flags]")
	fmt.Fprintln(a.out)
	for _, name := range names {
		fmt.Fprintf(a.out, "  %-13s %s\n", name, cmds[name].summary)
	}
}

func (a *App) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

func (a *App) check(v any) error {
	if err := a.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrUsage, strings.Join(msgs, ", "))
		}
		return err
	}
	return nil
}

func (a *App) login(ctx context.Context, args []string) error {
	var creds models.Credentials
	fs := a.flags("login")
	fs.StringVar(&creds.Email, "email", "", "account email")
	fs.StringVar(&creds.Password, "password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	if err := a.check(creds); err != nil {
		return err
	}

	if err := a.Session.Login(ctx, creds.Email, creds.Password); err != nil {
		return err
	}
	a.printUser()
	return nil
}

func (a *App) signup(ctx context.Context, args []string) error {
	var data models.SignupData
	fs := a.flags("signup")
	fs.StringVar(&data.Email, "email", "", "account email")
	fs.StringVar(&data.Password, "password", "", "password, at least 8 characters")
	fs.StringVar(&data.FirstName, "first-name", "", "first name")
	fs.StringVar(&data.LastName, "last-name", "", "last name")
	fs.StringVar(&data.Phone, "phone", "", "phone number")
	fs.StringVar(&data.SubscriptionPlanID, "plan", "", "plan chosen during signup")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	if err := a.check(data); err != nil {
		return err
	}

	if err := a.Session.Signup(ctx, data); err != nil {
		return err
	}
	a.printUser()
	return nil
}

func (a *App) logout(ctx context.Context, _ []string) error {
	res := a.Session.Logout(ctx)
	fmt.Fprintln(a.out, "Logged out")
	if !res.OK() {
		fmt.Fprintln(a.out, "warning: session cleanup was incomplete, see logs")
	}
	return nil
}

func (a *App) whoami(context.Context, []string) error {
	if !a.Session.IsAuthenticated() {
		fmt.Fprintln(a.out, "Not logged in")
		return nil
	}
	a.printUser()
	return nil
}

func (a *App) printUser() {
	u := a.Session.User()
	if u == nil {
		return
	}
	fmt.Fprintf(a.out, "%s <%s>\nRole: %s\n", u.FullName(), u.Email, u.Role)
}

func (a *App) plans(ctx context.Context, _ []string) error {
	plans, err := a.Subscriptions.ListAvailablePlans(ctx)
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		fmt.Fprintln(a.out, "No plans available")
		return nil
	}
	for _, p := range plans {
		fmt.Fprintf(a.out, "%-20s %-22s %s / %s", p.ID, p.Name, price(p.PriceCents, p.Currency), p.BillingInterval)
		if p.TrialDays > 0 {
			fmt.Fprintf(a.out, " (%d-day trial)", p.TrialDays)
		}
		fmt.Fprintln(a.out)
	}
	return nil
}

func (a *App) subscription(ctx context.Context, _ []string) error {
	sub, err := a.Subscriptions.FetchCurrent(ctx)
	if err != nil {
		if cached := a.Subscriptions.Cached(ctx); cached != nil {
			fmt.Fprintln(a.out, "warning: showing the last known subscription")
			a.printSubscription(cached)
		}
		return err
	}
	a.printSubscription(sub)
	return nil
}

func (a *App) printSubscription(sub *models.Subscription) {
	if sub == nil {
		fmt.Fprintln(a.out, "State: NONE")
		return
	}
	autoRenew := "on"
	if !sub.AutoRenew() {
		autoRenew = "off"
	}
	fmt.Fprintf(a.out, "State: %s\n", sub.State())
	fmt.Fprintf(a.out, "Plan: %s (%s / %s)\n", sub.Plan.Name, price(sub.Plan.PriceCents, sub.Plan.Currency), sub.Plan.BillingInterval)
	fmt.Fprintf(a.out, "Period: %s to %s\n", sub.CurrentPeriodStart.Format(time.DateOnly), sub.CurrentPeriodEnd.Format(time.DateOnly))
	fmt.Fprintf(a.out, "Auto-renew: %s\n", autoRenew)
	if sub.Status == models.StatusActive {
		fmt.Fprintf(a.out, "Months left: %d\n",
			month.RemainingMonths(sub.CurrentPeriodStart, monthsBetween(sub.CurrentPeriodStart, sub.CurrentPeriodEnd), time.Now()))
	}
	if s := sub.ScoutAttribution; s != nil {
		fmt.Fprintf(a.out, "Scout: %s", s.ScoutID)
		if s.ScoutName != "" {
			fmt.Fprintf(a.out, " (%s)", s.ScoutName)
		}
		fmt.Fprintln(a.out)
	}
	if sub.TotalSavings != "" {
		fmt.Fprintf(a.out, "Total savings: %.2f\n", sub.TotalSavings.Float64())
	}
}

func (a *App) subscribe(ctx context.Context, args []string) error {
	var (
		req               subscription.SubscribeRequest
		scout             models.ScoutAttribution
		descriptor, value string
	)
	fs := a.flags("subscribe")
	fs.StringVar(&req.PlanID, "plan", "", "plan id")
	fs.StringVar(&scout.ScoutID, "scout-id", "", "scout credited with the sale (unit leaders only)")
	fs.StringVar(&scout.ScoutName, "scout-name", "", "scout name")
	fs.StringVar(&scout.TroopNumber, "troop", "", "troop number")
	fs.StringVar(&descriptor, "payment-descriptor", "COMMON.ACCEPT.INAPP.PAYMENT", "payment token descriptor")
	fs.StringVar(&value, "payment-value", "", "opaque payment token")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	req.PaymentMethod = models.PaymentMethod{DataDescriptor: descriptor, DataValue: value}
	if scout != (models.ScoutAttribution{}) {
		req.Attribution = &scout
	}
	if err := a.check(req); err != nil {
		return err
	}

	if _, err := a.Subscriptions.FetchCurrent(ctx); err != nil {
		return err
	}
	sub, err := a.Subscriptions.Subscribe(ctx, req)
	if err != nil {
		return err
	}
	a.printSubscription(sub)
	return nil
}

// mutate читает подписку перед мутацией: защитные проверки опираются на последнее известное состояние.
func (a *App) mutate(ctx context.Context, fn func(context.Context) (*models.Subscription, error)) error {
	if _, err := a.Subscriptions.FetchCurrent(ctx); err != nil {
		return err
	}
	sub, err := fn(ctx)
	if err != nil {
		return err
	}
	a.printSubscription(sub)
	return nil
}

func (a *App) cancel(ctx context.Context, _ []string) error {
	return a.mutate(ctx, a.Subscriptions.Cancel)
}

func (a *App) reactivate(ctx context.Context, _ []string) error {
	return a.mutate(ctx, a.Subscriptions.Reactivate)
}

func (a *App) renew(ctx context.Context, _ []string) error {
	return a.mutate(ctx, a.Subscriptions.Renew)
}

type autoRenewInput struct {
	Mode string `validate:"required,oneof=on off"`
}

func (a *App) autorenew(ctx context.Context, args []string) error {
	var in autoRenewInput
	if len(args) > 0 {
		in.Mode = args[0]
	}
	if err := a.check(in); err != nil {
		return err
	}
	return a.mutate(ctx, func(ctx context.Context) (*models.Subscription, error) {
		return a.Subscriptions.ToggleAutoRenew(ctx, in.Mode == "on")
	})
}

func price(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, currency)
}

func monthsBetween(start, end time.Time) int {
	n := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if end.Day() < start.Day() && month.AddMonths(start, n).After(end) {
		n--
	}
	if n < 0 {
		return 0
	}
	return n
}
