package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/twin-monitor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Twin Monitor{{if .Asset.Name}}: {{.Asset.Name}}{{end}}</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.num { text-align: right; }
.alarm { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.paused { color: orange; }
#annotations li { list-style: none; }
</style>
</head>
<body>
<h1>Twin Monitor</h1>

<h2>Asset</h2>
<table>
{{if .Asset.ID}}<tr><th>Name</th><td id="asset-name">{{.Asset.Name}}</td></tr>
<tr><th>Key</th><td>{{.Asset.Key}}</td></tr>
<tr><th>Polling</th><td class="{{if .Paused}}paused{{end}}">{{if .Paused}}paused{{else if .Polling}}live{{else}}stopped{{end}}</td></tr>
<tr><th>Updated</th><td>{{stamp .Updated}}</td></tr>
{{else}}<tr><td>No asset selected</td></tr>{{end}}
</table>
<form method="post" action="/select" id="select-form"><input name="key" placeholder="asset key"> <button>Select</button></form>
<p><button data-post="/pause">Pause</button> <button data-post="/resume">Resume</button>
<button data-post="/visibility" data-visible="{{if .Overlay.Visible}}false{{else}}true{{end}}">{{if .Overlay.Visible}}Hide{{else}}Show{{end}} annotations</button></p>

<h2>Readout</h2>
<table>
{{range .Readout}}<tr><th>{{.Label}}</th><td{{if .Numeric}} class="num"{{end}}>{{.Value}}</td></tr>
{{else}}<tr><td>No readings</td></tr>
{{end}}</table>

<h2>Overlay</h2>
<table>
<tr><th>Phase</th><td>{{.Overlay.Phase}}</td></tr>
<tr><th>Scene ready</th><td>{{if .Overlay.Ready}}yes{{else}}no{{end}}</td></tr>
<tr><th>Visible</th><td>{{if .Overlay.Visible}}yes{{else}}no{{end}}</td></tr>
<tr><th>Annotations</th><td>{{.Overlay.Annotations}}</td></tr>
<tr><th>Reloads</th><td>{{.Overlay.Reloads}}</td></tr>
</table>
<ul id="annotations"></ul>

<h2>Trips</h2>
<table>
<tr><th>Phase A</th><td>{{.Counts.A}}</td></tr>
<tr><th>Phase B</th><td>{{.Counts.B}}</td></tr>
<tr><th>Phase C</th><td>{{.Counts.C}}</td></tr>
{{range .Events}}<tr><th>{{stamp .Timestamp}}</th><td{{if .Alarm}} class="alarm"{{end}}>{{.Message}}</td></tr>
{{end}}</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>API</th><td>{{.Config.APIBase}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{stamp .StartTime}}</td></tr>
<tr><th>Live poll</th><td>{{.Config.LiveMs}}ms</td></tr>
<tr><th>History poll</th><td>{{.Config.HistoryMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
</table>

<p><a href="/charts">Charts</a> | <a href="/index.json">JSON</a></p>
<script>
(function() {
  document.querySelectorAll("button[data-post]").forEach(function(b) {
    b.addEventListener("click", function() {
      var body = new URLSearchParams();
      if (b.dataset.visible) body.set("visible", b.dataset.visible);
      fetch(b.dataset.post, { method: "POST", body: body }).then(function() { location.reload(); });
    });
  });

  var list = document.getElementById("annotations");
  var visible = true;
  function render(icons) {
    list.innerHTML = "";
    (icons || []).forEach(function(a) {
      var li = document.createElement("li");
      li.textContent = "#" + a.dbId + " " + a.label;
      li.style.cssText = a.css || "";
      list.appendChild(li);
    });
    list.style.display = visible ? "" : "none";
  }

  var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
  ws.onmessage = function(ev) {
    var m = JSON.parse(ev.data);
    switch (m.type) {
    case "asset":
      render([]);
      ws.send(JSON.stringify({ type: "model_loading" }));
      ws.send(JSON.stringify({ type: "model_ready" }));
      break;
    case "load":
      visible = m.visible !== false;
      render(m.annotations);
      break;
    case "annotations":
      render(m.annotations);
      break;
    case "visibility":
      visible = m.visible;
      list.style.display = visible ? "" : "none";
      break;
    case "unload":
      render([]);
      break;
    }
  };
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
