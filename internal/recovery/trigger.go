package recovery

import "fmt"

// Trigger is a system signal that may start boot recovery. It carries no
// payload besides its kind and arrival time.
type Trigger string

const (
	BootCompleted Trigger = "boot_completed"
	UserPresent   Trigger = "user_present"
	UserUnlocked  Trigger = "user_unlocked"
)

// ParseTrigger maps a name to a Trigger.
func ParseTrigger(s string) (Trigger, error) {
	switch t := Trigger(s); t {
	case BootCompleted, UserPresent, UserUnlocked:
		return t, nil
	}
	return "", fmt.Errorf("unknown trigger %q (want boot_completed, user_present or user_unlocked)", s)
}
