// Package systemd generates and checks the trustplane service unit.
package systemd

// UnitPath is where `trustplane init --install-systemd` writes the unit.
const UnitPath = "/etc/systemd/system/trustplane@.service"

// ServeTemplate returns the unit template for trustplane@.service.
// The %i instance specifier selects /etc/trustplane/%i.yaml, so each
// agent fleet runs its own gateway.
func ServeTemplate() string {
	return `[Unit]
Description=trustplane gateway (%i)
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
Environment=TRUSTPLANE_CONFIG=/etc/trustplane/%i.yaml
ExecStart=/usr/local/bin/trustplane serve
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=2
TimeoutStopSec=30
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=true
StateDirectory=trustplane
ReadWritePaths=/var/lib/trustplane

[Install]
WantedBy=multi-user.target
`
}
