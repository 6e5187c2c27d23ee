package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortTruncatesLongRevisions(t *testing.T) {
	assert.Equal(t, "a3f8c2d1", short("a3f8c2d1e9b07f4c"))
	assert.Equal(t, "dev", short("dev"))
}

func TestFullCarriesAppName(t *testing.T) {
	assert.Equal(t, AppName+"/"+GitCommit, Full())
	assert.NotEmpty(t, GitCommit)
}
