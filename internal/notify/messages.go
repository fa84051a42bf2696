package notify

import (
	"fmt"
	"strings"
	"time"
)

// copySet is the outbound notification wording for one language.
type copySet struct {
	greeting     func(first string) string
	confirmation string // greeting, time, service, staff
	reminder     string // greeting, time, service, staff
	// nobody stands in for a missing first name in template parameters.
	nobody string

	confirm string
	cancel  string
	change  string
}

var copySets = map[string]copySet{
	"en": {
		greeting: func(first string) string {
			if first == "" {
				return "Hi there"
			}
			return "Hi " + first
		},
		confirmation: "%s! Tomorrow at %s you have %s with %s. Can you confirm your appointment?",
		reminder:     "%s, a reminder that your appointment starts at %s: %s with %s. See you soon!",
		nobody:       "there",
		confirm:      "Confirm",
		cancel:       "Cancel",
		change:       "Change",
	},
	"it": {
		greeting: func(first string) string {
			if first == "" {
				return "Ciao"
			}
			return "Ciao " + first
		},
		confirmation: "%s! Domani alle %s hai %s con %s. Puoi confermare l'appuntamento?",
		reminder:     "%s, ti ricordiamo l'appuntamento delle %s: %s con %s. A presto!",
		nobody:       "cliente",
		confirm:      "Conferma",
		cancel:       "Annulla",
		change:       "Modifica",
	},
}

// copyFor resolves a template language code such as "it" or "en_US" to its
// wording, falling back to English.
func copyFor(language string) copySet {
	base := strings.ToLower(strings.TrimSpace(language))
	if i := strings.IndexAny(base, "_-"); i >= 0 {
		base = base[:i]
	}
	if c, ok := copySets[base]; ok {
		return c
	}
	return copySets["en"]
}

func confirmationText(c copySet, appt DueAppointment, loc *time.Location) string {
	return fmt.Sprintf(c.confirmation, c.greeting(firstName(appt.ClientName)),
		appt.StartAt.In(loc).Format("15:04"), appt.ServiceName, appt.StaffName)
}

func reminderText(c copySet, appt DueAppointment, loc *time.Location) string {
	return fmt.Sprintf(c.reminder, c.greeting(firstName(appt.ClientName)),
		appt.StartAt.In(loc).Format("15:04"), appt.ServiceName, appt.StaffName)
}

func templateName(c copySet, name string) string {
	if first := firstName(name); first != "" {
		return first
	}
	return c.nobody
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
