package alert

import (
	"testing"

	"github.com/neuroerp/fabric/pkg/config"
)

func TestNoOpAlerter(t *testing.T) {
	var a Alerter = &NoOpAlerter{}
	if err := a.Alert("subject", "message"); err != nil {
		t.Errorf("NoOpAlerter.Alert() error = %v", err)
	}
}

func TestEmailAlerterDisabled(t *testing.T) {
	a := NewEmailAlerter(config.AlertConfig{Enabled: false})
	// Disabled alerter never touches SMTP.
	if err := a.Alert("subject", "message"); err != nil {
		t.Errorf("Alert() error = %v, want nil when disabled", err)
	}
}
