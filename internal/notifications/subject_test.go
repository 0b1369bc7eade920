package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectsFor(t *testing.T) {
	subjects := SubjectsFor("user123", []string{"p1", "p2"})
	require.Len(t, subjects, 4)

	assert.Equal(t, Subject{
		Name:    "global.notifications.public",
		ReadKey: "global.notifications.public.user123.read",
	}, subjects[0])
	assert.Equal(t, Subject{
		Name:    "global.notifications.private.user123",
		ReadKey: "global.notifications.private.user123.read",
	}, subjects[1])
	assert.Equal(t, Subject{
		Name:    "p1.notifications.public",
		ReadKey: "p1.notifications.public.user123.read",
	}, subjects[2])
	assert.Equal(t, Subject{
		Name:    "p2.notifications.public",
		ReadKey: "p2.notifications.public.user123.read",
	}, subjects[3])
}

func TestSubjectsForNoProjects(t *testing.T) {
	subjects := SubjectsFor("user123", nil)
	require.Len(t, subjects, 2)
	assert.Equal(t, "global.notifications.public", subjects[0].Name)
	assert.Equal(t, "global.notifications.private.user123", subjects[1].Name)
}

func TestReadKeys(t *testing.T) {
	keys := ReadKeys("user123", []string{"p1", "p2"})
	assert.Equal(t, []string{
		"global.notifications.public.user123.read",
		"global.notifications.private.user123.read",
		"p1.notifications.public.user123.read",
		"p2.notifications.public.user123.read",
	}, keys)
}

func TestDurableName(t *testing.T) {
	assert.Equal(t, "global-notifications-public-user123", DurableName("global.notifications.public", "user123"))
	assert.Equal(t, "p1-notifications-public-user123", DurableName("p1.notifications.public", "user123"))
}
