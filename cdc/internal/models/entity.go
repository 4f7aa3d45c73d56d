package models

import "strings"

// Entities recognized on CDC channels.
const (
	EntityLead         = "Lead"
	EntityTask         = "Task"
	EntityEmailMessage = "EmailMessage"
	EntityUnknown      = "Unknown"
)

// ClassifyChannel names the entity a channel carries. The first substring
// match wins, checked in the order Lead, Task, EmailMessage.
func ClassifyChannel(channel string) string {
	for _, entity := range []string{EntityLead, EntityTask, EntityEmailMessage} {
		if strings.Contains(channel, entity) {
			return entity
		}
	}
	return EntityUnknown
}
