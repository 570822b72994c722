package settlement

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string, headers map[string]string) error
	AdminPUT(path string, body any) error
	AdminGET(path string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	Set(key, value string)
	Get(key string) string
}

const lastTransferKey = "transfer_id"

// RegisterSteps registers onboarding, settlement and release steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &settlementSteps{tc: tc}

	ctx.Step(`^identity "([^"]*)" has KYC status "([^"]*)"$`, steps.identityHasStatus)
	ctx.Step(`^(sender|recipient) "([^"]*)" is flagged$`, steps.addressIsFlagged)
	ctx.Step(`^the sender with key "([^"]*)" sends (\d+) to "([^"]*)" at rate "([^"]*)" from "([^"]*)" to "([^"]*)"$`, steps.sendTransfer)
	ctx.Step(`^the transfer id is remembered$`, steps.rememberTransfer)
	ctx.Step(`^the caller with key "([^"]*)" releases the remembered transfer$`, steps.releaseTransfer)
	ctx.Step(`^I look up the remembered transfer$`, steps.lookupTransfer)
	ctx.Step(`^the audit trail for the remembered transfer is read$`, steps.readAuditTrail)
	ctx.Step(`^the audit trail should include a successful "([^"]*)" entry$`, steps.auditTrailIncludes)
}

type settlementSteps struct {
	tc TestContext
}

func (s *settlementSteps) identityHasStatus(_ context.Context, addr, status string) error {
	if err := s.tc.AdminPUT("/admin/profiles/"+addr, map[string]any{"status": status}); err != nil {
		return err
	}
	if got := s.tc.GetLastResponseStatus(); got != 200 {
		return fmt.Errorf("profile upsert returned %d", got)
	}
	return nil
}

func (s *settlementSteps) addressIsFlagged(_ context.Context, role, addr string) error {
	if err := s.tc.AdminPUT("/admin/flags/"+role+"/"+addr, map[string]any{"reason": "e2e"}); err != nil {
		return err
	}
	if got := s.tc.GetLastResponseStatus(); got != 200 {
		return fmt.Errorf("flag returned %d", got)
	}
	return nil
}

func (s *settlementSteps) sendTransfer(_ context.Context, key string, amount int, recipient, rate, source, target string) error {
	return s.tc.POST("/transfers", map[string]any{
		"sender_credential": key,
		"recipient":         recipient,
		"amount":            amount,
		"fx_rate":           rate,
		"source_currency":   source,
		"target_currency":   target,
	})
}

func (s *settlementSteps) rememberTransfer(_ context.Context) error {
	v, err := s.tc.GetResponseField("transfer_id")
	if err != nil {
		return err
	}
	s.tc.Set(lastTransferKey, fmt.Sprint(v))
	return nil
}

func (s *settlementSteps) releaseTransfer(_ context.Context, key string) error {
	return s.tc.POST("/transfers/"+s.tc.Get(lastTransferKey)+"/release", map[string]any{
		"caller_credential": key,
	})
}

func (s *settlementSteps) lookupTransfer(_ context.Context) error {
	return s.tc.GET("/transfers/"+s.tc.Get(lastTransferKey), nil)
}

func (s *settlementSteps) readAuditTrail(_ context.Context) error {
	return s.tc.AdminGET("/admin/audit?transfer_id=" + s.tc.Get(lastTransferKey))
}

func (s *settlementSteps) auditTrailIncludes(_ context.Context, stage string) error {
	var body struct {
		Entries []struct {
			Stage   string `json:"stage"`
			Success bool   `json:"success"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &body); err != nil {
		return fmt.Errorf("decode audit trail: %w", err)
	}
	for _, e := range body.Entries {
		if e.Stage == stage && e.Success {
			return nil
		}
	}
	return fmt.Errorf("no successful %s entry among %d audit entries", stage, len(body.Entries))
}
