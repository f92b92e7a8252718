package session

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	apperrors "github.com/lumenui/host/internal/errors"
)

// =============================================================================
// Test doubles
// =============================================================================

// fakeChannel is a controllable Channel for state machine tests.
type fakeChannel struct {
	mu        sync.Mutex
	sent      []string
	closeCode *int
	sendErr   error
}

func (f *fakeChannel) Send(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeChannel) CloseCode() *int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeCode == nil {
		code := 1000
		f.closeCode = &code
	}
	return nil
}

// markClosed simulates the remote side dying with the given close code.
func (f *fakeChannel) markClosed(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCode = &code
}

func (f *fakeChannel) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// testApp is a minimal application instance.
type testApp struct {
	proxyID string
	events  []string
	mu      sync.Mutex
}

func (a *testApp) HandleEvent(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, text)
}

// testClass is a minimal ApplicationClass.
type testClass struct {
	name   string
	newErr error
	made   int
}

func (c *testClass) AppName() string { return c.name }

func (c *testClass) New(p *Proxy) (any, error) {
	if c.newErr != nil {
		return nil, c.newErr
	}
	c.made++
	return &testApp{proxyID: p.ID()}, nil
}

// remoteClass is a RemoteClass fixture with an explicit base chain.
type remoteClass struct {
	name string
	base *remoteClass
	js   string
	css  string
}

func (r *remoteClass) RemoteClassName() string { return r.name }

func (r *remoteClass) Base() RemoteClass {
	if r.base == nil {
		return nil // root marker capability
	}
	return r.base
}

func (r *remoteClass) ScriptCode() string { return r.js }
func (r *remoteClass) StyleCode() string  { return r.css }

func newTestManager() *Manager {
	m := NewManager(nil, nil)
	m.SetDefaultRuntime(KindNotebook)
	return m
}

// expectPanicCode fails the test unless fn panics with a CodedError
// carrying the given code.
func expectPanicCode(t *testing.T, code string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic with code %s", code)
		}
		err, ok := r.(error)
		if !ok {
			t.Fatalf("panic value %v is not an error", r)
		}
		if !apperrors.IsCode(err, code) {
			t.Fatalf("panic code = %q, want %q", apperrors.GetCode(err), code)
		}
	}()
	fn()
}

// =============================================================================
// Registry tests
// =============================================================================

func TestRegistry_DefaultPreregistered(t *testing.T) {
	r := NewRegistry()

	if !r.HasName(DefaultAppName) {
		t.Error("default application name should be preregistered")
	}
	class, _, _, err := r.Lookup(DefaultAppName)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if class != nil {
		t.Error("default entry should have no class")
	}
}

func TestRegistry_NamesInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("Calc", &testClass{name: "Calc"})
	r.Register("Plot", &testClass{name: "Plot"})
	r.Register("Calc", &testClass{name: "Calc"}) // re-register must not reorder

	got := r.Names()
	want := []string{DefaultAppName, "Calc", "Plot"}
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistry_ReRegisterPreservesLists(t *testing.T) {
	r := NewRegistry()
	first := &testClass{name: "Calc"}
	r.Register("Calc", first)

	m := newTestManager()
	p := newProxy(m, "Calc")
	ent, _ := r.entry("Calc")
	ent.pending = append(ent.pending, p)

	second := &testClass{name: "Calc"}
	r.Register("Calc", second)

	class, pending, _, err := r.Lookup("Calc")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if class != second {
		t.Error("re-registration should replace the class")
	}
	if len(pending) != 1 || pending[0] != p {
		t.Error("re-registration should preserve the pending list")
	}
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := NewRegistry()

	_, _, _, err := r.Lookup("Ghost")
	if !apperrors.IsCode(err, apperrors.CodeAppUnknown) {
		t.Errorf("error code = %q, want %q", apperrors.GetCode(err), apperrors.CodeAppUnknown)
	}
}

// =============================================================================
// Proxy state machine tests
// =============================================================================

func TestProxy_StatusTransitions(t *testing.T) {
	m := newTestManager()
	p := newProxy(m, "Calc")

	if p.Status() != StatusPending {
		t.Fatalf("fresh proxy status = %s, want pending", p.Status())
	}

	ch := &fakeChannel{}
	p.AttachChannel(ch)
	if p.Status() != StatusConnected {
		t.Fatalf("status after attach = %s, want connected", p.Status())
	}

	// Closure is observed lazily through the close code.
	ch.markClosed(1006)
	if p.Status() != StatusClosed {
		t.Fatalf("status after close = %s, want closed", p.Status())
	}
}

func TestProxy_BufferedCommandsFlushFIFO(t *testing.T) {
	m := newTestManager()
	p := newProxy(m, "Calc")

	sent := []string{"EXEC x=1", "EXEC x=2", "EXEC x=3"}
	for _, cmd := range sent {
		if err := p.SendCommand(cmd); err != nil {
			t.Fatalf("SendCommand while pending failed: %v", err)
		}
	}

	ch := &fakeChannel{}
	p.AttachChannel(ch)

	// Post-attach sends go directly to the channel, after the flush.
	if err := p.SendCommand("EXEC x=4"); err != nil {
		t.Fatalf("SendCommand while connected failed: %v", err)
	}

	got := ch.commands()
	want := append(sent, "EXEC x=4")
	if len(got) != len(want) {
		t.Fatalf("channel saw %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestProxy_AttachToConnectedPanics(t *testing.T) {
	m := newTestManager()
	p := newProxy(m, "Calc")
	p.AttachChannel(&fakeChannel{})

	expectPanicCode(t, apperrors.CodeSessionInvalidState, func() {
		p.AttachChannel(&fakeChannel{})
	})
}

func TestProxy_AttachToClosedPanics(t *testing.T) {
	m := newTestManager()
	p := newProxy(m, "Calc")
	ch := &fakeChannel{}
	p.AttachChannel(ch)
	ch.markClosed(1000)

	expectPanicCode(t, apperrors.CodeSessionInvalidState, func() {
		p.AttachChannel(&fakeChannel{})
	})
}

func TestProxy_SetInstanceTwicePanics(t *testing.T) {
	m := newTestManager()
	p := newProxy(m, "Calc")
	p.SetInstance(&testApp{})

	expectPanicCode(t, apperrors.CodeSessionInvalidState, func() {
		p.SetInstance(&testApp{})
	})
}

func TestProxy_SendToClosedFails(t *testing.T) {
	m := newTestManager()
	p := newProxy(m, "Calc")
	ch := &fakeChannel{}
	p.AttachChannel(ch)
	ch.markClosed(1006)

	err := p.SendCommand("EXEC x=1")
	if !apperrors.IsCode(err, apperrors.CodeChannelClosed) {
		t.Errorf("error code = %q, want %q", apperrors.GetCode(err), apperrors.CodeChannelClosed)
	}
}

func TestProxy_EvaluateRequiresConnection(t *testing.T) {
	m := newTestManager()
	p := newProxy(m, "Calc")

	err := p.EvaluateExpression("1+1")
	if !apperrors.IsCode(err, apperrors.CodeSessionNotConnected) {
		t.Errorf("error code = %q, want %q", apperrors.GetCode(err), apperrors.CodeSessionNotConnected)
	}

	ch := &fakeChannel{}
	p.AttachChannel(ch)
	if err := p.EvaluateExpression("1+1"); err != nil {
		t.Fatalf("EvaluateExpression failed: %v", err)
	}
	got := ch.commands()
	if len(got) != 1 || got[0] != "EVAL 1+1" {
		t.Errorf("channel saw %v, want [EVAL 1+1]", got)
	}
}

func TestProxy_CloseClearsInstanceAndIsIdempotent(t *testing.T) {
	m := newTestManager()
	p := newProxy(m, "Calc")
	p.SetInstance(&testApp{})

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if p.Instance() != nil {
		t.Error("Close should clear the instance reference")
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	// Instance stays set-once even after the reference is cleared.
	expectPanicCode(t, apperrors.CodeSessionInvalidState, func() {
		p.SetInstance(&testApp{})
	})
}

// =============================================================================
// RegisterRemoteClass tests
// =============================================================================

func TestProxy_RegisterRemoteClassEmitsDefinePair(t *testing.T) {
	m := newTestManager()
	p := newProxy(m, "Calc")
	ch := &fakeChannel{}
	p.AttachChannel(ch)

	widget := &remoteClass{name: "Widget", js: "class Widget {}", css: ".widget {}"}
	if err := p.RegisterRemoteClass(widget); err != nil {
		t.Fatalf("RegisterRemoteClass failed: %v", err)
	}

	got := ch.commands()
	want := []string{"DEFINE-JS class Widget {}", "DEFINE-CSS .widget {}"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("channel saw %v, want %v", got, want)
	}
}

func TestProxy_RegisterRemoteClassIdempotent(t *testing.T) {
	m := newTestManager()
	p := newProxy(m, "Calc")
	ch := &fakeChannel{}
	p.AttachChannel(ch)

	widget := &remoteClass{name: "Widget", js: "class Widget {}", css: ".widget {}"}
	for i := 0; i < 3; i++ {
		if err := p.RegisterRemoteClass(widget); err != nil {
			t.Fatalf("RegisterRemoteClass #%d failed: %v", i, err)
		}
	}

	if got := ch.commands(); len(got) != 2 {
		t.Errorf("repeated registration emitted %d commands, want exactly one DEFINE pair", len(got))
	}
}

func TestProxy_RegisterRemoteClassBlankStyleSkipsCSS(t *testing.T) {
	m := newTestManager()
	p := newProxy(m, "Calc")
	ch := &fakeChannel{}
	p.AttachChannel(ch)

	widget := &remoteClass{name: "Widget", js: "class Widget {}", css: "  \n\t "}
	if err := p.RegisterRemoteClass(widget); err != nil {
		t.Fatalf("RegisterRemoteClass failed: %v", err)
	}

	got := ch.commands()
	if len(got) != 1 {
		t.Fatalf("channel saw %d commands, want 1 (no DEFINE-CSS for blank style)", len(got))
	}
	if !strings.HasPrefix(got[0], "DEFINE-JS ") {
		t.Errorf("command = %q, want DEFINE-JS", got[0])
	}
}

func TestProxy_RegisterRemoteClassAncestorsFirst(t *testing.T) {
	m := newTestManager()
	p := newProxy(m, "Calc")
	ch := &fakeChannel{}
	p.AttachChannel(ch)

	root := &remoteClass{name: "Component", js: "class Component {}"}
	mid := &remoteClass{name: "Widget", base: root, js: "class Widget {}"}
	leaf := &remoteClass{name: "Button", base: mid, js: "class Button {}", css: ".button {}"}

	if err := p.RegisterRemoteClass(leaf); err != nil {
		t.Fatalf("RegisterRemoteClass failed: %v", err)
	}

	got := ch.commands()
	want := []string{
		"DEFINE-JS class Component {}",
		"DEFINE-JS class Widget {}",
		"DEFINE-JS class Button {}",
		"DEFINE-CSS .button {}",
	}
	if len(got) != len(want) {
		t.Fatalf("channel saw %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Registering the base afterwards emits nothing new.
	if err := p.RegisterRemoteClass(mid); err != nil {
		t.Fatalf("RegisterRemoteClass(base) failed: %v", err)
	}
	if len(ch.commands()) != len(want) {
		t.Error("re-registering an ancestor emitted duplicate DEFINE commands")
	}
}

func TestProxy_RegisterRemoteClassConcurrentNoDuplicates(t *testing.T) {
	m := newTestManager()
	p := newProxy(m, "Calc")
	ch := &fakeChannel{}
	p.AttachChannel(ch)

	root := &remoteClass{name: "Component", js: "class Component {}"}
	leafs := make([]*remoteClass, 8)
	for i := range leafs {
		leafs[i] = &remoteClass{
			name: fmt.Sprintf("Leaf%d", i),
			base: root,
			js:   fmt.Sprintf("class Leaf%d {}", i),
		}
	}

	var wg sync.WaitGroup
	for _, leaf := range leafs {
		wg.Add(1)
		go func(rc *remoteClass) {
			defer wg.Done()
			if err := p.RegisterRemoteClass(rc); err != nil {
				t.Errorf("RegisterRemoteClass failed: %v", err)
			}
		}(leaf)
	}
	wg.Wait()

	got := ch.commands()

	// The shared root must be defined exactly once and strictly before
	// every derived class.
	rootCount := 0
	rootIndex := -1
	for i, cmd := range got {
		if cmd == "DEFINE-JS class Component {}" {
			rootCount++
			rootIndex = i
		}
	}
	if rootCount != 1 {
		t.Fatalf("root class defined %d times, want 1", rootCount)
	}
	if rootIndex != 0 {
		t.Errorf("root class defined at index %d, want before all derived classes", rootIndex)
	}
	if len(got) != 1+len(leafs) {
		t.Errorf("channel saw %d commands, want %d", len(got), 1+len(leafs))
	}
}

func TestProxy_RegisterRemoteClassWhilePendingBuffers(t *testing.T) {
	m := newTestManager()
	p := newProxy(m, "Calc")

	widget := &remoteClass{name: "Widget", js: "class Widget {}", css: ".widget {}"}
	if err := p.RegisterRemoteClass(widget); err != nil {
		t.Fatalf("RegisterRemoteClass while pending failed: %v", err)
	}
	if err := p.Exec("new Widget()"); err != nil {
		t.Fatalf("Exec while pending failed: %v", err)
	}

	ch := &fakeChannel{}
	p.AttachChannel(ch)

	got := ch.commands()
	want := []string{
		"DEFINE-JS class Widget {}",
		"DEFINE-CSS .widget {}",
		"EXEC new Widget()",
	}
	if len(got) != len(want) {
		t.Fatalf("channel saw %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
