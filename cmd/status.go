package cmd

import (
	"context"
	"strings"
	"text/tabwriter"
	"time"
)

// RunStatus prints the persisted intent, the boot session and the live
// redirect rules.
func RunStatus(ctx context.Context, rt *Runtime) error {
	st, err := rt.Controller.Status(ctx)
	if err != nil {
		return err
	}

	selected := strings.Join(st.SelectedUIDs, ",")
	if selected == "" {
		selected = "-"
	}
	Printer.Fprintf(rt.Out, "Selected:   %s\n", selected)
	Printer.Fprintf(rt.Out, "Ports:      proxy %d, dns %d\n", st.ProxyPort, st.DNSPort)
	Printer.Fprintf(rt.Out, "Autostart:  %v\n", st.Autostart)
	if st.BootEpoch != 0 {
		Printer.Fprintf(rt.Out, "Boot:       %s (restore dispatched: %v)\n",
			time.UnixMilli(st.BootEpoch).Format(time.RFC3339), st.ServiceStarted)
	}
	if st.HasRestore {
		result := "failed"
		if st.RestoreSuccess {
			result = "ok"
		}
		Printer.Fprintf(rt.Out, "Restore:    %s at %s\n", result, st.LastRestore.Format(time.RFC3339))
	}
	Printer.Fprintln(rt.Out)

	if st.ListErr != nil {
		Printer.Fprintf(rt.Out, "Live rules unavailable: %v\n", st.ListErr)
		return nil
	}

	w := tabwriter.NewWriter(rt.Out, 0, 0, 3, ' ', 0)
	Printer.Fprintln(w, "NUM\tPROTO\tUID\tPORT")
	for _, r := range st.Rules {
		Printer.Fprintf(w, "%d\t%s\t%d\t%d\n", r.Line, r.Protocol, r.UID, r.ToPort)
	}
	return w.Flush()
}
