package cmd

import (
	"context"
	"errors"
	"fmt"

	"grimm.is/appredirect/internal/control"
	"grimm.is/appredirect/internal/i18n"
	"grimm.is/appredirect/internal/redirect"
)

// ErrScriptFailed is returned when a command ran but a script reported
// failure. Details have already been printed.
var ErrScriptFailed = errors.New("script failed")

// RunApply persists uidList as the selection and applies it. Non-zero ports
// migrate the selection first.
func RunApply(ctx context.Context, rt *Runtime, uidList string, proxyPort, dnsPort int) error {
	if proxyPort != 0 || dnsPort != 0 {
		curProxy, curDNS, err := rt.Prefs.Ports()
		if err != nil {
			return err
		}
		if proxyPort == 0 {
			proxyPort = curProxy
		}
		if dnsPort == 0 {
			dnsPort = curDNS
		}
		if proxyPort != curProxy || dnsPort != curDNS {
			rep, err := rt.Controller.MigratePorts(ctx, proxyPort, dnsPort)
			if err != nil {
				return err
			}
			if err := rt.report(rep); err != nil {
				return err
			}
		}
	}

	rep, err := rt.Controller.ApplySelection(ctx, redirect.SplitUIDList(uidList))
	if err != nil {
		return err
	}
	if err := rt.report(rep); err != nil {
		return err
	}
	Printer.Fprintf(rt.Out, i18n.MsgApplied, len(rep.UIDs), rep.ProxyPort, rep.DNSPort)
	return nil
}

// RunClear removes the selection's rules on the persisted ports.
func RunClear(ctx context.Context, rt *Runtime, forget bool) error {
	rep, err := rt.Controller.ClearSelection(ctx, forget)
	if err != nil {
		return err
	}
	if len(rep.UIDs) == 0 {
		Printer.Fprintf(rt.Out, i18n.MsgNoSelection)
		return nil
	}
	if err := rt.report(rep); err != nil {
		return err
	}
	Printer.Fprintf(rt.Out, i18n.MsgCleared, len(rep.UIDs))
	return nil
}

// RunClearAll removes every redirect rule of uidList, or of the selection
// when uidList is empty, regardless of port.
func RunClearAll(ctx context.Context, rt *Runtime, uidList string) error {
	rep, err := rt.Controller.ClearAll(ctx, redirect.SplitUIDList(uidList))
	if err != nil {
		return err
	}
	if len(rep.UIDs) == 0 {
		Printer.Fprintf(rt.Out, i18n.MsgNoSelection)
		return nil
	}
	if err := rt.report(rep); err != nil {
		return err
	}
	Printer.Fprintf(rt.Out, i18n.MsgCleared, len(rep.UIDs))
	return nil
}

// RunSetPorts moves the selection to new ports.
func RunSetPorts(ctx context.Context, rt *Runtime, proxyPort, dnsPort int) error {
	rep, err := rt.Controller.MigratePorts(ctx, proxyPort, dnsPort)
	if err != nil {
		return err
	}
	if err := rt.report(rep); err != nil {
		return err
	}
	Printer.Fprintf(rt.Out, i18n.MsgMigrated, len(rep.UIDs), proxyPort, dnsPort)
	return nil
}

// RunAutostart sets or, with an empty value, prints the autostart flag.
func RunAutostart(rt *Runtime, value string) error {
	var on bool
	switch value {
	case "":
		cur, err := rt.Prefs.Autostart()
		if err != nil {
			return err
		}
		Printer.Fprintf(rt.Out, i18n.MsgAutostart, cur)
		return nil
	case "on", "true", "1":
		on = true
	case "off", "false", "0":
	default:
		return fmt.Errorf("autostart: expected on or off, got %q", value)
	}
	if err := rt.Controller.SetAutostart(on); err != nil {
		return err
	}
	Printer.Fprintf(rt.Out, i18n.MsgAutostart, on)
	return nil
}

// report prints failed scripts and returns ErrScriptFailed if any failed.
func (rt *Runtime) report(rep control.Report) error {
	if rep.OK() {
		return nil
	}
	for _, res := range rep.Results {
		if res.OK() {
			continue
		}
		Printer.Fprintf(rt.Out, i18n.MsgScriptFailed, res.ExitCode, res.Err)
	}
	return fmt.Errorf("%s: %w", rep.Op, ErrScriptFailed)
}
