package systemd

import (
	"strings"
	"testing"
)

func TestServeTemplate(t *testing.T) {
	tmpl := ServeTemplate()

	for _, section := range []string{"[Unit]", "[Service]", "[Install]"} {
		if !strings.Contains(tmpl, section) {
			t.Errorf("template missing section %s", section)
		}
	}

	if !strings.Contains(tmpl, "TRUSTPLANE_CONFIG=/etc/trustplane/%i.yaml") {
		t.Error("template must select the config by instance name")
	}
	if !strings.Contains(tmpl, "trustplane serve") {
		t.Error("template missing trustplane serve command")
	}

	for _, directive := range []string{"NoNewPrivileges=true", "PrivateTmp=true", "ProtectSystem=strict"} {
		if !strings.Contains(tmpl, directive) {
			t.Errorf("template missing security directive %s", directive)
		}
	}
}
