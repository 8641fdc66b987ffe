package activitypub

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/klppl/gathernet/internal/model"
)

func TestAddressForVisibilityClasses(t *testing.T) {
	followers := "https://gathernet.example/users/alice/followers"

	pub := AddressFor(model.VisibilityPublic, followers, nil)
	assert.Equal(t, []string{PublicURI}, pub.To)
	assert.Equal(t, []string{followers}, pub.CC)

	unlisted := AddressFor(model.VisibilityUnlisted, followers, nil)
	assert.Equal(t, []string{followers}, unlisted.To)
	assert.Equal(t, []string{PublicURI}, unlisted.CC)

	followersOnly := AddressFor(model.VisibilityFollowers, followers, nil)
	assert.Equal(t, []string{followers}, followersOnly.To)
	assert.Empty(t, followersOnly.CC)

	explicit := []string{"https://remote.example/users/carol"}
	private := AddressFor(model.VisibilityPrivate, followers, explicit)
	assert.Equal(t, explicit, private.To)
	assert.Empty(t, private.CC)
}

func TestNewActivityIDIsUnderBaseURL(t *testing.T) {
	id := NewActivityID("https://gathernet.example")
	assert.Contains(t, id, "https://gathernet.example/activities/")
}

func TestHTMLToTextStripsTagsAndDecodesEntities(t *testing.T) {
	got := htmlToText("<p>Hello &amp; welcome</p><script>evil()</script>")
	assert.Equal(t, "Hello & welcome", got)
}
