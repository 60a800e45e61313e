package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forgefit/forgefit/internal/app"
	forgetesting "github.com/forgefit/forgefit/testing"
)

func TestMainReturnsInTestMode(t *testing.T) {
	forgetesting.Enable()
	app.RefreshTestMode()
	assert.True(t, app.InTestMode())
	assert.NotPanics(t, main)
}
