package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/lumenui/host/internal/session"
)

// demoAppName is the built-in application served by "lumen serve".
const demoAppName = "Demo"

// demoComponentClass is the root remote class: a minimal component base
// all demo widgets derive from.
type demoComponentClass struct{}

func (demoComponentClass) RemoteClassName() string { return "DemoComponent" }
func (demoComponentClass) Base() session.RemoteClass {
	return nil
}

func (demoComponentClass) ScriptCode() string {
	return `window.DemoComponent = class DemoComponent {
	constructor(parent) {
		this.node = document.createElement("div");
		parent.appendChild(this.node);
	}
};`
}

func (demoComponentClass) StyleCode() string { return "" }

// demoWidgetClass is the clickable counter widget shown by the demo
// application.
type demoWidgetClass struct{}

func (demoWidgetClass) RemoteClassName() string   { return "DemoWidget" }
func (demoWidgetClass) Base() session.RemoteClass { return demoComponentClass{} }

func (demoWidgetClass) ScriptCode() string {
	return `window.DemoWidget = class DemoWidget extends DemoComponent {
	constructor(parent) {
		super(parent);
		this.node.className = "demo-widget";
		this.node.textContent = "Click me";
		this.node.addEventListener("click", function () {
			lumen.emit("clicked");
		});
	}
	setLabel(text) { this.node.textContent = text; }
};`
}

func (demoWidgetClass) StyleCode() string {
	return `.demo-widget {
	font-family: sans-serif;
	padding: 1em 2em;
	margin: 2em;
	display: inline-block;
	border: 1px solid #888;
	border-radius: 4px;
	cursor: pointer;
	user-select: none;
}`
}

// demoClass instantiates the demo application for each session.
type demoClass struct{}

func (demoClass) AppName() string { return demoAppName }

func (demoClass) New(p *session.Proxy) (any, error) {
	if err := p.RegisterRemoteClass(demoWidgetClass{}); err != nil {
		return nil, err
	}
	if err := p.Exec("window.demo = new DemoWidget(document.body);"); err != nil {
		return nil, err
	}
	return &demoApp{proxy: p}, nil
}

// demoApp counts clicks reported by the widget and pushes the new label
// back to the runtime.
type demoApp struct {
	proxy  *session.Proxy
	clicks int
}

func (a *demoApp) HandleEvent(text string) {
	switch {
	case text == "clicked":
		a.clicks++
		label := fmt.Sprintf("Clicked %d times", a.clicks)
		if err := a.proxy.Exec(fmt.Sprintf("window.demo.setLabel(%q);", label)); err != nil {
			log.Printf("demo: failed to update label: %v", err)
		}
	case strings.HasPrefix(text, "error "):
		log.Printf("demo: runtime error: %s", strings.TrimPrefix(text, "error "))
	default:
		log.Printf("demo: unhandled event: %s", text)
	}
}
