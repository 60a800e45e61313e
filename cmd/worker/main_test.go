package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forgefit/forgefit/internal/app"
	forgetesting "github.com/forgefit/forgefit/testing"
)

func TestWorkerReturnsInTestMode(t *testing.T) {
	forgetesting.Enable()
	app.RefreshTestMode()
	assert.NotPanics(t, main)
}
