// Package control implements the user-facing operations: persisting a
// selection, applying or clearing it, migrating ports and reporting status.
// Every mutation goes through one Controller mutex.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/appredirect/internal/events"
	"grimm.is/appredirect/internal/logging"
	"grimm.is/appredirect/internal/redirect"
	"grimm.is/appredirect/internal/state"
)

// Operation names used in reports and events.
const (
	OpApplySelection = "apply_selection"
	OpClearSelection = "clear_selection"
	OpClearAll       = "clear_all"
	OpMigratePorts   = "migrate_ports"
)

// Config wires a Controller.
type Config struct {
	Preferences *state.Preferences
	Service     *redirect.Service
	Hub         *events.Hub
	Logger      *logging.Logger
}

// Controller serializes user actions against the persisted intent and the
// nat table.
type Controller struct {
	prefs  *state.Preferences
	svc    *redirect.Service
	hub    *events.Hub
	logger *logging.Logger

	mu sync.Mutex
}

// New creates a Controller.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Controller{
		prefs:  cfg.Preferences,
		svc:    cfg.Service,
		hub:    cfg.Hub,
		logger: logger.WithComponent("control"),
	}
}

// Report collects the script runs of one operation.
type Report struct {
	Op        string
	UIDs      []string
	ProxyPort int
	DNSPort   int
	Results   []redirect.ExecutionResult
}

// OK reports whether every script succeeded.
func (r Report) OK() bool {
	for _, res := range r.Results {
		if !res.OK() {
			return false
		}
	}
	return true
}

// Err joins the execution errors of every failed script.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Op, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Stdout is the output of the last script, which ends with the chain listing.
func (r Report) Stdout() string {
	if len(r.Results) == 0 {
		return ""
	}
	return r.Results[len(r.Results)-1].Stdout
}

// ApplySelection replaces the persisted selection with uids and applies it.
// UIDs dropped from the previous selection have their rules cleared first.
func (c *Controller) ApplySelection(ctx context.Context, uids []string) (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	proxyPort, dnsPort, err := c.prefs.Ports()
	if err != nil {
		return Report{}, err
	}
	next, err := redirect.ParseUIDs(uids)
	if err != nil {
		return Report{}, err
	}
	if _, err := redirect.NewPortConfig(proxyPort, dnsPort); err != nil {
		return Report{}, err
	}

	rep := Report{Op: OpApplySelection, UIDs: next.Strings(), ProxyPort: proxyPort, DNSPort: dnsPort}

	prev, err := c.selection()
	if err != nil {
		return rep, err
	}
	if removed := prev.Difference(next); !removed.Empty() {
		res, err := c.svc.ClearRules(ctx, removed.Strings(), proxyPort, dnsPort)
		if err != nil {
			return rep, err
		}
		rep.Results = append(rep.Results, res)
	}

	if err := c.prefs.SetSelectedUIDs(next.Strings()); err != nil {
		return rep, err
	}

	res, err := c.svc.ApplyRules(ctx, next.Strings(), proxyPort, dnsPort)
	if err != nil {
		return rep, err
	}
	rep.Results = append(rep.Results, res)
	c.finish(rep)
	return rep, nil
}

// ClearSelection removes the rules of the persisted selection on the
// persisted ports. With forget the selection itself is dropped too.
func (c *Controller) ClearSelection(ctx context.Context, forget bool) (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	proxyPort, dnsPort, err := c.prefs.Ports()
	if err != nil {
		return Report{}, err
	}
	set, err := c.selection()
	if err != nil {
		return Report{}, err
	}
	rep := Report{Op: OpClearSelection, UIDs: set.Strings(), ProxyPort: proxyPort, DNSPort: dnsPort}
	if set.Empty() {
		return rep, nil
	}

	res, err := c.svc.ClearRules(ctx, set.Strings(), proxyPort, dnsPort)
	if err != nil {
		return rep, err
	}
	rep.Results = append(rep.Results, res)

	if forget {
		if err := c.prefs.SetSelectedUIDs(nil); err != nil {
			return rep, err
		}
	}
	c.finish(rep)
	return rep, nil
}

// ClearAll removes every redirect rule owned by uids, on any port. An empty
// uids means the persisted selection.
func (c *Controller) ClearAll(ctx context.Context, uids []string) (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(uids) == 0 {
		set, err := c.selection()
		if err != nil {
			return Report{}, err
		}
		if set.Empty() {
			return Report{Op: OpClearAll}, nil
		}
		uids = set.Strings()
	}

	rep := Report{Op: OpClearAll, UIDs: uids}
	res, err := c.svc.ClearAllRulesForUIDs(ctx, uids)
	if err != nil {
		return rep, err
	}
	rep.Results = append(rep.Results, res)
	c.finish(rep)
	return rep, nil
}

// MigratePorts moves the persisted selection to new ports: universal clear
// of the selection, persist the ports, then apply on the new ports. A failed
// clear leaves the persisted ports untouched and the report carries the error.
func (c *Controller) MigratePorts(ctx context.Context, proxyPort, dnsPort int) (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := redirect.NewPortConfig(proxyPort, dnsPort); err != nil {
		return Report{}, err
	}
	set, err := c.selection()
	if err != nil {
		return Report{}, err
	}
	rep := Report{Op: OpMigratePorts, UIDs: set.Strings(), ProxyPort: proxyPort, DNSPort: dnsPort}

	if !set.Empty() {
		res, err := c.svc.ClearAllRulesForUIDs(ctx, set.Strings())
		if err != nil {
			return rep, err
		}
		rep.Results = append(rep.Results, res)
		if res.Err != nil {
			c.finish(rep)
			return rep, nil
		}
	}

	if err := c.prefs.SetProxyPort(proxyPort); err != nil {
		return rep, err
	}
	if err := c.prefs.SetDNSPort(dnsPort); err != nil {
		return rep, err
	}

	if !set.Empty() {
		res, err := c.svc.ApplyRules(ctx, set.Strings(), proxyPort, dnsPort)
		if err != nil {
			return rep, err
		}
		rep.Results = append(rep.Results, res)
	}
	c.finish(rep)
	return rep, nil
}

// SetAutostart toggles boot restoration.
func (c *Controller) SetAutostart(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.prefs.SetAutostart(on); err != nil {
		return err
	}
	c.logger.Audit("autostart", "preferences", map[string]any{"enabled": on})
	return nil
}

// Status is a snapshot of the persisted intent and the live chain.
type Status struct {
	SelectedUIDs   []string
	Autostart      bool
	ProxyPort      int
	DNSPort        int
	BootEpoch      int64
	ServiceStarted bool
	LastRestore    time.Time
	RestoreSuccess bool
	HasRestore     bool
	Rules          []redirect.Rule
	// ListErr is set when the live chain could not be read.
	ListErr error
}

// Status reads the persisted state and lists the live rules.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	var st Status
	var err error

	if st.SelectedUIDs, err = c.prefs.SelectedUIDs(); err != nil {
		return st, err
	}
	if st.Autostart, err = c.prefs.Autostart(); err != nil {
		return st, err
	}
	if st.ProxyPort, st.DNSPort, err = c.prefs.Ports(); err != nil {
		return st, err
	}
	if st.BootEpoch, st.ServiceStarted, err = c.prefs.BootSession(); err != nil {
		return st, err
	}
	if st.LastRestore, st.RestoreSuccess, st.HasRestore, err = c.prefs.LastRestore(); err != nil {
		return st, err
	}

	rules, res := c.svc.ListRules(ctx)
	st.Rules = rules
	st.ListErr = res.Err
	return st, nil
}

// Plan is a dry run: the scripts an operation would execute and the change
// it would make to the live chain.
type Plan struct {
	Scripts []redirect.Script
	Diff    string
}

// PlanMigration compiles MigratePorts without running it. The diff compares
// the live chain with the projected one.
func (c *Controller) PlanMigration(ctx context.Context, proxyPort, dnsPort int) (Plan, error) {
	ports, err := redirect.NewPortConfig(proxyPort, dnsPort)
	if err != nil {
		return Plan{}, err
	}
	set, err := c.selection()
	if err != nil {
		return Plan{}, err
	}

	var plan Plan
	if set.Empty() {
		return plan, nil
	}
	compiler := c.svc.Compiler()
	plan.Scripts = []redirect.Script{
		compiler.CompileUniversalClear(set),
		compiler.CompileApply(set, ports.ProxyPort, ports.DNSPort),
	}

	live, res := c.svc.ListRules(ctx)
	if res.Err != nil {
		return plan, fmt.Errorf("list live rules: %w", res.Err)
	}
	projected := redirect.ProjectApply(redirect.ProjectUniversalClear(live, set), set, ports.ProxyPort, ports.DNSPort)
	plan.Diff, err = listingDiff(live, projected)
	return plan, err
}

func listingDiff(before, after []redirect.Rule) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(redirect.FormatListing(before)),
		B:        difflib.SplitLines(redirect.FormatListing(after)),
		FromFile: "live",
		ToFile:   "projected",
		Context:  1,
	})
}

func (c *Controller) selection() (redirect.UIDSet, error) {
	uids, err := c.prefs.SelectedUIDs()
	if err != nil {
		return redirect.UIDSet{}, err
	}
	if len(uids) == 0 {
		return redirect.NewUIDSet(), nil
	}
	return redirect.ParseUIDs(uids)
}

func (c *Controller) finish(rep Report) {
	ok := rep.OK()
	if !ok {
		c.logger.Warn("Operation finished with errors", "op", rep.Op, "error", rep.Err())
	}
	c.hub.EmitRulesChanged(rep.Op, joinUIDs(rep.UIDs), rep.ProxyPort, rep.DNSPort, ok)
}

func joinUIDs(uids []string) string {
	set, err := redirect.ParseUIDs(uids)
	if err != nil {
		return ""
	}
	return set.String()
}
