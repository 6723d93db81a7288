package web

import (
	"html/template"
	"io"
	"log"
	"strconv"
	"time"

	"github.com/sweeney/gatewise/internal/status"
)

var pageTmpl = template.Must(template.New("garage").Funcs(template.FuncMap{
	"since": formatUptime,
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format(time.RFC3339)
	},
	"onoff": func(ok bool) string {
		if ok {
			return "connected"
		}
		return "disconnected"
	},
}).Parse(pageHTML))

// formatUptime renders d as "3d 4h 5m 6s", dropping leading zero units.
func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	parts := []struct {
		n    int64
		unit string
	}{
		{secs / 86400, "d"},
		{secs / 3600 % 24, "h"},
		{secs / 60 % 60, "m"},
		{secs % 60, "s"},
	}
	out := ""
	for i, p := range parts {
		if out == "" && p.n == 0 && i < len(parts)-1 {
			continue
		}
		if out != "" {
			out += " "
		}
		out += strconv.FormatInt(p.n, 10) + p.unit
	}
	return out
}

const pageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Garage</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 34em; margin: 1.5em auto; padding: 0 1em; color: #222; }
.panel { border: 1px solid #ccc; border-radius: 6px; padding: 0.8em 1em; margin-bottom: 1em; }
.panel h2 { margin: 0 0 0.5em; font-size: 1em; text-transform: uppercase; color: #666; }
dl { display: grid; grid-template-columns: 9em 1fr; gap: 0.3em 1em; margin: 0; }
dt { color: #555; }
dd { margin: 0; }
.door { font-size: 2em; text-align: center; margin: 0.3em 0 0.6em; }
.open, .opening { color: #b50; }
.closed, .closing { color: #161; }
.unknown { color: #888; }
.connected { color: #161; }
.disconnected, .fault { color: #b00; }
.actions form { display: inline; }
.actions button { font-size: 1.1em; padding: 0.5em 1.2em; margin-right: 0.5em; }
ol.log { font-family: monospace; font-size: 0.85em; padding-left: 1.5em; }
</style>
</head>
<body>
<div class="panel">
<div id="door-state" class="door {{.Door}}">{{.Door}}</div>
{{with .DoorFault}}<p id="door-fault" class="fault">Door unavailable: {{.}}</p>{{end}}
<dl>
<dt>Last trigger</dt><dd>{{stamp .LastTrigger}}</dd>
<dt>Auto-close</dt><dd>{{if .AutoClosePending}}pending{{else if eq .Config.AutoCloseSeconds 0}}off{{else}}armed on open ({{.Config.AutoCloseSeconds}}s){{end}}</dd>
</dl>
<p class="actions">
<form method="post" action="/trigger"><button type="submit"{{if .DoorFault}} disabled{{end}}>Open / Close</button></form>
{{if .AutoClosePending}}<form method="post" action="/auto-close/cancel"><button type="submit">Keep open</button></form>{{end}}
</p>
</div>

<div class="panel">
<h2>Recent events</h2>
{{with .Events}}<ol class="log">{{range .}}
<li>{{.}}</li>{{end}}
</ol>{{else}}<p>No events yet.</p>{{end}}
</div>

<div class="panel">
<h2>Activity since start</h2>
<dl>
<dt>Triggers</dt><dd>{{.Counts.Triggers}}</dd>
<dt>Rejected</dt><dd>{{.Counts.RejectedTriggers}}</dd>
<dt>State changes</dt><dd>{{.Counts.StateChanges}}</dd>
</dl>
</div>

<div class="panel">
<h2>Daemon</h2>
<dl>
<dt>MQTT</dt><dd class="{{onoff .MQTTConnected}}">{{if .Config.Broker}}{{onoff .MQTTConnected}} ({{.Config.Broker}}){{else}}off{{end}}</dd>
{{with .Network}}<dt>Network</dt><dd>{{.Status}}, {{.Type}}{{if .SSID}} {{.SSID}}{{end}} {{.IP}}</dd>{{end}}
<dt>Pins</dt><dd>{{.Config.Backend}}: relay {{.Config.RelayPin}}, button {{.Config.ButtonPin}}{{if ge .Config.SensorPin 0}}, sensor {{.Config.SensorPin}}{{end}}</dd>
<dt>Pulse</dt><dd>{{.Config.PulseMs}}ms</dd>
<dt>Heartbeat</dt><dd>{{if eq .Config.HeartbeatMs 0}}off{{else}}{{.Config.HeartbeatMs}}ms{{end}}</dd>
<dt>Up</dt><dd>{{since .Up}} (since {{stamp .StartTime}})</dd>
</dl>
</div>

<p><a href="/index.json">status.json</a> | <a href="/events.json">events.json</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, events []string) {
	page := struct {
		status.Snapshot
		Up     time.Duration
		Events []string
	}{snap, snap.Uptime(), events}

	if err := pageTmpl.Execute(w, page); err != nil {
		log.Printf("web: render: %v", err)
	}
}
