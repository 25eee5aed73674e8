package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGettersMatchInfo(t *testing.T) {
	v, c, d := Info()

	assert.Equal(t, v, GetVersion())
	assert.Equal(t, c, GetCommit())
	assert.Equal(t, d, GetDate())
	assert.NotEmpty(t, v)
}

func TestString(t *testing.T) {
	s := String()

	for _, part := range []string{"storefront", "version=" + GetVersion(), "commit=" + GetCommit(), "date=" + GetDate()} {
		assert.Contains(t, s, part)
	}
}
