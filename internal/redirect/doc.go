// Package redirect compiles per-UID NAT redirect intents into idempotent
// iptables scripts and runs them through a privileged shell.
//
// Every compiled script is a fixed point: apply converges to exactly one TCP
// and one UDP/53 REDIRECT rule per UID, clear converges to none. Scripts
// never abort on a single failed rule; the final exit status reports whether
// any mutation failed.
package redirect
