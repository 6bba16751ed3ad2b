// Package i18n localizes CLI output.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages we support
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// CLI message keys. English text is the key itself.
const (
	MsgApplied        = "Applied redirect for %d app(s) to ports %d/%d\n"
	MsgCleared        = "Cleared redirect for %d app(s)\n"
	MsgMigrated       = "Moved %d app(s) to ports %d/%d\n"
	MsgAutostart      = "Autostart: %v\n"
	MsgScriptFailed   = "Script failed (exit %d): %v\n"
	MsgNoSelection    = "No apps selected\n"
	MsgRecovery       = "Boot recovery: %s\n"
	MsgConfigWritten  = "Wrote %s\n"
	MsgConfigValid    = "%s is valid\n"
	MsgDaemonStarted  = "Daemon running (pid %d)\n"
	MsgDaemonStopping = "Shutting down\n"
)

func init() {
	de := language.German
	for key, text := range map[string]string{
		MsgApplied:        "Umleitung für %d App(s) auf Ports %d/%d angewendet\n",
		MsgCleared:        "Umleitung für %d App(s) entfernt\n",
		MsgMigrated:       "%d App(s) auf Ports %d/%d verschoben\n",
		MsgAutostart:      "Autostart: %v\n",
		MsgScriptFailed:   "Skript fehlgeschlagen (Exit %d): %v\n",
		MsgNoSelection:    "Keine Apps ausgewählt\n",
		MsgRecovery:       "Wiederherstellung nach Boot: %s\n",
		MsgConfigWritten:  "%s geschrieben\n",
		MsgConfigValid:    "%s ist gültig\n",
		MsgDaemonStarted:  "Dienst läuft (PID %d)\n",
		MsgDaemonStopping: "Wird beendet\n",
	} {
		_ = message.SetString(de, key, text)
	}
}

// MatchLanguage returns the best matching language for the given tags
func MatchLanguage(acceptLang string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(acceptLang)
	tag, _, _ := matcher.Match(tags...)
	return tag
}

// NewPrinter returns a message printer for the given language
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// NewCLIPrinter returns a printer for the system's locale (from env vars)
func NewCLIPrinter() *message.Printer {
	lang := os.Getenv("LC_ALL")
	if lang == "" {
		lang = os.Getenv("LANG")
	}
	if lang == "" || lang == "C" || lang == "POSIX" {
		return message.NewPrinter(DefaultLang)
	}

	// Strip encoding (e.g. .UTF-8) if present
	if i := strings.Index(lang, "."); i != -1 {
		lang = lang[:i]
	}
	lang = strings.ReplaceAll(lang, "_", "-")

	tag, err := language.Parse(lang)
	if err != nil {
		tag = MatchLanguage(lang)
	} else {
		tag, _, _ = matcher.Match(tag)
	}

	// Matched tags may carry a -u-rg region extension; catalogs are keyed by
	// base language.
	base, _ := tag.Base()
	return message.NewPrinter(language.Make(base.String()))
}
