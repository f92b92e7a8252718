package server

import (
	"html/template"
	"log"
	"net/http"
)

// sessionPage is the bootstrap page served at each session URL. It
// opens the websocket sibling endpoint and interprets the command
// stream: DEFINE-JS and EXEC/EVAL are evaluated, DEFINE-CSS is injected
// as a style element. Events flow back over the same socket via
// lumen.emit.
const sessionPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<script>
(function () {
	"use strict";

	var path = location.pathname;
	if (path.charAt(path.length - 1) !== "/") { path += "/"; }
	var scheme = location.protocol === "https:" ? "wss:" : "ws:";
	var ws = new WebSocket(scheme + "//" + location.host + path + "ws" + location.search);

	window.lumen = {
		emit: function (text) { ws.send(text); }
	};

	function inject_css(css) {
		var el = document.createElement("style");
		el.type = "text/css";
		el.appendChild(document.createTextNode(css));
		document.head.appendChild(el);
	}

	ws.onmessage = function (m) {
		var text = m.data;
		var sep = text.indexOf(" ");
		var verb = sep < 0 ? text : text.slice(0, sep);
		var payload = sep < 0 ? "" : text.slice(sep + 1);
		switch (verb) {
		case "DEFINE-JS":
		case "EXEC":
		case "EVAL":
			try {
				(0, eval)(payload);
			} catch (e) {
				window.lumen.emit("error " + e.message);
			}
			break;
		case "DEFINE-CSS":
			inject_css(payload);
			break;
		default:
			window.lumen.emit("error unknown command " + verb);
		}
	};

	ws.onclose = function (ev) {
		document.body.innerHTML =
			"<p>Session closed (code " + ev.code + ").</p>";
	};
})();
</script>
</body>
</html>
`

var pageTemplate = template.Must(template.New("session").Parse(sessionPage))

// servePage renders the bootstrap page for one session URL.
func (s *Server) servePage(w http.ResponseWriter, r *http.Request, appName, instanceID string) {
	title := appName
	if instanceID != "" {
		title += " " + instanceID
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, struct{ Title string }{Title: title}); err != nil {
		log.Printf("server: render page: %v", err)
	}
}
