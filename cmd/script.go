package cmd

import (
	"context"
	"fmt"
	"strconv"

	"grimm.is/appredirect/internal/brand"
	"grimm.is/appredirect/internal/redirect"
)

// RunScript prints the script an operation would execute without running
// it. set-ports also prints how the live chain would change.
func RunScript(ctx context.Context, rt *Runtime, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s script apply|clear|clear-all|set-ports [args]", brand.BinaryName)
	}

	compiler := rt.Service.Compiler()
	proxyPort, dnsPort, err := rt.Prefs.Ports()
	if err != nil {
		return err
	}

	switch args[0] {
	case "apply", "clear":
		uids, err := scriptUIDs(rt, args[1:])
		if err != nil {
			return err
		}
		ports, err := redirect.NewPortConfig(proxyPort, dnsPort)
		if err != nil {
			return err
		}
		script := compiler.CompileApply(uids, ports.ProxyPort, ports.DNSPort)
		if args[0] == "clear" {
			script = compiler.CompileClear(uids, ports.ProxyPort, ports.DNSPort)
		}
		fmt.Fprint(rt.Out, script.Render())

	case "clear-all":
		uids, err := scriptUIDs(rt, args[1:])
		if err != nil {
			return err
		}
		fmt.Fprint(rt.Out, compiler.CompileUniversalClear(uids).Render())

	case "set-ports":
		if len(args) != 3 {
			return fmt.Errorf("usage: %s script set-ports <proxy-port> <dns-port>", brand.BinaryName)
		}
		newProxy, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid proxy port %q", args[1])
		}
		newDNS, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid dns port %q", args[2])
		}
		plan, err := rt.Controller.PlanMigration(ctx, newProxy, newDNS)
		if err != nil {
			return err
		}
		for _, s := range plan.Scripts {
			fmt.Fprint(rt.Out, s.Render())
		}
		if plan.Diff != "" {
			fmt.Fprintln(rt.Out)
			fmt.Fprint(rt.Out, plan.Diff)
		}

	default:
		return fmt.Errorf("unknown script operation %q", args[0])
	}
	return nil
}

// scriptUIDs parses explicit UIDs, falling back to the persisted selection.
func scriptUIDs(rt *Runtime, args []string) (redirect.UIDSet, error) {
	var tokens []string
	for _, a := range args {
		tokens = append(tokens, redirect.SplitUIDList(a)...)
	}
	if len(tokens) == 0 {
		selected, err := rt.Prefs.SelectedUIDs()
		if err != nil {
			return redirect.UIDSet{}, err
		}
		tokens = selected
	}
	return redirect.ParseUIDs(tokens)
}
