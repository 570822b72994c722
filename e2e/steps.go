package e2e

import (
	"github.com/cucumber/godog"

	"remitgate/e2e/steps/common"
	"remitgate/e2e/steps/settlement"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (health, status and field assertions)
	common.RegisterSteps(ctx, tc)

	// Register settlement and release steps
	settlement.RegisterSteps(ctx, tc)
}
