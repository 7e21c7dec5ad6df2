package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameFilter(t *testing.T) {
	f := NewNameFilter([]string{"AutoModerator", " spammer ", ""})

	assert.Equal(t, 2, f.Len())
	assert.True(t, f.Matches("automoderator"))
	assert.True(t, f.Matches("AUTOMODERATOR"))
	assert.True(t, f.Matches("Spammer"))
	assert.False(t, f.Matches("alice"))
	assert.False(t, f.Matches(""))
}

func TestNameFilter_Nil(t *testing.T) {
	var f *NameFilter
	assert.False(t, f.Matches("anyone"))
	assert.Zero(t, f.Len())
}
