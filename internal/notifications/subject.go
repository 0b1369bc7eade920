package notifications

import (
	"fmt"
	"strings"
)

// GlobalScope is the scope marker for subjects not tied to a project
const GlobalScope = "global"

// Subject is one logical notification channel for a user session,
// pairing the broker subject name with the read-state key persisting
// its read set.
type Subject struct {
	// Name is the broker subject messages arrive on
	Name string

	// ReadKey is the KV key holding the subject's read message IDs
	ReadKey string
}

// SubjectsFor builds the fixed subject list for a session: the
// global-public channel, the user-private channel and one public
// channel per authorized project. The list is static for the lifetime
// of the session.
func SubjectsFor(user string, projects []string) []Subject {
	subjects := make([]Subject, 0, len(projects)+2)

	publicName := fmt.Sprintf("%s.notifications.public", GlobalScope)
	subjects = append(subjects, Subject{
		Name:    publicName,
		ReadKey: fmt.Sprintf("%s.%s.read", publicName, user),
	})

	privateName := fmt.Sprintf("%s.notifications.private.%s", GlobalScope, user)
	subjects = append(subjects, Subject{
		Name:    privateName,
		ReadKey: fmt.Sprintf("%s.read", privateName),
	})

	for _, project := range projects {
		projectName := fmt.Sprintf("%s.notifications.public", project)
		subjects = append(subjects, Subject{
			Name:    projectName,
			ReadKey: fmt.Sprintf("%s.%s.read", projectName, user),
		})
	}

	return subjects
}

// ReadKeys returns the read-state keys seeded for a session
func ReadKeys(user string, projects []string) []string {
	subjects := SubjectsFor(user, projects)
	keys := make([]string, len(subjects))
	for i, s := range subjects {
		keys[i] = s.ReadKey
	}
	return keys
}

// DurableName derives the broker consumer name for a subject and user.
// Token separators the broker rejects in consumer names are mapped to
// dashes.
func DurableName(subject, user string) string {
	name := subject + "-" + user
	return strings.NewReplacer(".", "-", "*", "-", ">", "-", " ", "-").Replace(name)
}
